package geocoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/UnknownOlympus/geobatch/internal/metrics"
	"github.com/UnknownOlympus/geobatch/internal/models"
)

// ClientOptions configures the Client adapter.
type ClientOptions struct {
	ProviderName string           // Provider name for metrics labeling
	RequestDelay time.Duration    // Minimum spacing between two provider requests, 0 disables pacing
	CacheSize    int              // Number of candidate answers kept in memory, 0 disables the cache
	Metrics      *metrics.Metrics // Metrics for tracking provider calls
	Logger       *slog.Logger
}

// cachedAnswer is a definitive provider answer: coordinates, or a not-found.
type cachedAnswer struct {
	coords *models.Coordinates
}

// Client wraps a Provider into a single-attempt call that never fails loudly.
// It counts every request sent to the provider, paces requests, and remembers
// definitive answers so repeated candidates are not billed twice.
// A Client is not safe for concurrent use.
type Client struct {
	provider     Provider
	providerName string
	limiter      *rate.Limiter
	cache        *lru.Cache[string, cachedAnswer]
	metrics      *metrics.Metrics
	log          *slog.Logger
	requests     int
}

// NewClient creates a Client around the given provider.
func NewClient(provider Provider, opts ClientOptions) (*Client, error) {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RequestDelay), 1)
	}

	client := &Client{
		provider:     provider,
		providerName: opts.ProviderName,
		limiter:      limiter,
		metrics:      opts.Metrics,
		log:          opts.Logger,
	}

	if opts.CacheSize > 0 {
		cache, err := lru.New[string, cachedAnswer](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create candidate cache: %w", err)
		}
		client.cache = cache
	}

	return client, nil
}

// Requests returns the number of requests sent to the provider so far.
func (c *Client) Requests() int {
	return c.requests
}

// TryGeocode performs one geocoding attempt for a single candidate.
// Any failure, including transport and decoding errors, is reported as OutcomeFailed.
func (c *Client) TryGeocode(
	ctx context.Context,
	address string,
	addrType models.AddressType,
) (*models.Coordinates, models.Outcome) {
	key := string(addrType) + "|" + address
	if c.cache != nil {
		if answer, ok := c.cache.Get(key); ok {
			c.metrics.CacheHits.Inc()
			c.log.DebugContext(ctx, "Candidate answered from cache", "address", address, "type", addrType)
			return outcomeOf(answer.coords)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.log.WarnContext(ctx, "Request pacing interrupted", "error", err)
		return nil, models.OutcomeFailed
	}

	c.requests++
	startTime := time.Now()
	coords, err := c.provider.Geocode(ctx, address, addrType)
	c.metrics.RequestSeconds.WithLabelValues(c.providerName).Observe(time.Since(startTime).Seconds())

	switch {
	case err == nil:
		c.metrics.ProviderRequests.WithLabelValues(c.providerName, string(models.OutcomeSuccess)).Inc()
		c.remember(key, coords)
		return outcomeOf(coords)
	case errors.Is(err, ErrNoResult):
		c.metrics.ProviderRequests.WithLabelValues(c.providerName, "not_found").Inc()
		c.remember(key, nil)
		c.log.DebugContext(ctx, "Candidate not found", "address", address, "type", addrType)
	default:
		c.metrics.ProviderRequests.WithLabelValues(c.providerName, "error").Inc()
		c.log.WarnContext(ctx, "Geocoding request failed", "address", address, "type", addrType, "error", err)
	}

	return nil, models.OutcomeFailed
}

func (c *Client) remember(key string, coords *models.Coordinates) {
	if c.cache != nil {
		c.cache.Add(key, cachedAnswer{coords: coords})
	}
}

func outcomeOf(coords *models.Coordinates) (*models.Coordinates, models.Outcome) {
	if coords == nil {
		return nil, models.OutcomeFailed
	}
	c := *coords
	return &c, models.OutcomeSuccess
}
