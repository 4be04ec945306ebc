package geocoding

import (
	"context"
	"errors"
	"net/http"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

// Provider is an interface that defines a method for geocoding an address.
// The Geocode method takes a context, an address string and an address-type hint,
// and returns the corresponding coordinates and an error if any occurs.
type Provider interface {
	Geocode(ctx context.Context, address string, addrType models.AddressType) (*models.Coordinates, error)
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrNoResult is returned when the provider answered but found nothing for the address.
// Unlike transport errors it is a definitive answer and may be cached.
var ErrNoResult = errors.New("geocoding provider found no result")
