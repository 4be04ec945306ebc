package geocoding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

// VWorldBaseURL -- VWorld address API base URL.
const VWorldBaseURL = "https://api.vworld.kr/req/address"

// VWorld response statuses.
const (
	vworldStatusOK       = "OK"
	vworldStatusNotFound = "NOT_FOUND"
)

// VWorldProvider implements geocoding using the VWorld getcoord API.
type VWorldProvider struct {
	client  HTTPClient   // HTTP client for making requests
	baseURL string       // Base URL for the VWorld API
	apiKey  string       // API key issued by VWorld
	log     *slog.Logger // Logger for logging operations
}

// Common errors for VWorld provider.
var (
	ErrVWorldEmptyAddress  = errors.New("vworld provider got empty address")
	ErrVWorldInvalidCoords = errors.New("vworld API returned invalid coordinates")
	ErrVWorldStatus        = errors.New("vworld API returned an error status")
)

// vworldResponse is the subset of the getcoord response used here.
// The point carries x (longitude) then y (latitude).
type vworldResponse struct {
	Response struct {
		Status string `json:"status"`
		Error  struct {
			Code string `json:"code"`
			Text string `json:"text"`
		} `json:"error"`
		Result json.RawMessage `json:"result"`
	} `json:"response"`
}

type vworldResult struct {
	Point *struct {
		X axisValue `json:"x"`
		Y axisValue `json:"y"`
	} `json:"point"`
}

// axisValue accepts both "127.1" and 127.1.
type axisValue float64

func (v *axisValue) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrVWorldInvalidCoords, string(data))
	}
	*v = axisValue(f)
	return nil
}

// NewVWorldProvider creates a new VWorld geocoding provider.
func NewVWorldProvider(apiKey string, log *slog.Logger) *VWorldProvider {
	const timeout = 10

	return NewVWorldProviderWithClient(&http.Client{Timeout: timeout * time.Second}, apiKey, log)
}

// NewVWorldProviderWithClient allows injecting custom HTTP client.
func NewVWorldProviderWithClient(client HTTPClient, apiKey string, log *slog.Logger) *VWorldProvider {
	return &VWorldProvider{
		client:  client,
		baseURL: VWorldBaseURL,
		apiKey:  apiKey,
		log:     log,
	}
}

// Geocode converts address into geographic coordinates using VWorld API.
func (vp *VWorldProvider) Geocode(
	ctx context.Context,
	address string,
	addrType models.AddressType,
) (*models.Coordinates, error) {
	if address == "" {
		return nil, ErrVWorldEmptyAddress
	}

	reqURL, err := url.Parse(vp.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	query := reqURL.Query()
	query.Set("service", "address")
	query.Set("request", "getcoord")
	query.Set("version", "2.0")
	query.Set("crs", "epsg:4326")
	query.Set("address", address)
	query.Set("refine", "true")
	query.Set("simple", "false")
	query.Set("format", "json")
	query.Set("type", string(addrType))
	query.Set("key", vp.apiKey)
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := vp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute geocoding request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		vp.log.ErrorContext(ctx, "VWorld API error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("vworld API returned status %d: %s", resp.StatusCode, string(body))
	}

	vp.log.DebugContext(ctx, "VWorld raw response", "body", string(body))

	var result vworldResponse
	if err = json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode vworld response: %w", err)
	}

	switch result.Response.Status {
	case vworldStatusOK:
		// continue
	case vworldStatusNotFound:
		return nil, ErrNoResult
	default:
		return nil, fmt.Errorf("%w: %q %s %s", ErrVWorldStatus,
			result.Response.Status, result.Response.Error.Code, result.Response.Error.Text)
	}

	var point vworldResult
	if err = json.Unmarshal(result.Response.Result, &point); err != nil {
		return nil, fmt.Errorf("failed to decode vworld result: %w", err)
	}
	if point.Point == nil {
		return nil, ErrNoResult
	}

	return &models.Coordinates{
		Latitude:  float64(point.Point.Y),
		Longitude: float64(point.Point.X),
	}, nil
}
