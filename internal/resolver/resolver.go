// Package resolver turns a row's road and parcel addresses into one set of
// coordinates by walking each address's candidate ladder.
package resolver

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/UnknownOlympus/geobatch/internal/address"
	"github.com/UnknownOlympus/geobatch/internal/models"
)

// Locator performs a single geocoding attempt and counts the requests it makes.
type Locator interface {
	TryGeocode(ctx context.Context, address string, addrType models.AddressType) (*models.Coordinates, models.Outcome)
	Requests() int
}

// minAddressLength is the rune length a normalized address must exceed to be tried.
const minAddressLength = 3

// Attempt describes the candidate that produced a result.
type Attempt struct {
	Candidate string
	Level     address.Level
	Type      models.AddressType
}

// Resolution is the classified result for one row.
type Resolution struct {
	Status      models.Status
	Coordinates *models.Coordinates
	Winner      *Attempt // Winner is set only on success.
	Attempts    int      // Attempts counts candidates tried, cached or not.
}

// Resolver applies the road-then-parcel policy under a request budget.
type Resolver struct {
	locator    Locator
	normalizer *address.Normalizer
	limit      int
	log        *slog.Logger
}

// New creates a Resolver that stops issuing requests once the locator has made limit requests.
func New(locator Locator, normalizer *address.Normalizer, limit int, log *slog.Logger) *Resolver {
	return &Resolver{
		locator:    locator,
		normalizer: normalizer,
		limit:      limit,
		log:        log,
	}
}

// Exhausted reports whether the request budget has been used up.
func (r *Resolver) Exhausted() bool {
	return r.locator.Requests() >= r.limit
}

// Remaining returns the number of requests left in the budget.
func (r *Resolver) Remaining() int {
	return max(0, r.limit-r.locator.Requests())
}

type addressPair struct {
	address  string
	addrType models.AddressType
}

// Resolve classifies a row. Road address is tried first, parcel address second,
// each from its most precise candidate to its coarsest; the first hit wins.
func (r *Resolver) Resolve(ctx context.Context, roadAddress, parcelAddress string) Resolution {
	if r.Exhausted() {
		return Resolution{Status: models.StatusLimitReached}
	}

	var pairs []addressPair
	if cleaned := r.normalizer.Normalize(roadAddress); utf8.RuneCountInString(cleaned) > minAddressLength {
		pairs = append(pairs, addressPair{address: cleaned, addrType: models.AddressRoad})
	}
	if cleaned := r.normalizer.Normalize(parcelAddress); utf8.RuneCountInString(cleaned) > minAddressLength {
		pairs = append(pairs, addressPair{address: cleaned, addrType: models.AddressParcel})
	}

	if len(pairs) == 0 {
		return Resolution{Status: models.StatusEmpty}
	}

	attempts := 0
	for _, pair := range pairs {
		for _, candidate := range address.Candidates(pair.address) {
			attempts++
			coords, outcome := r.locator.TryGeocode(ctx, candidate.Address, pair.addrType)
			if outcome != models.OutcomeSuccess {
				continue
			}

			r.log.DebugContext(ctx, "Candidate resolved",
				"candidate", candidate.Address,
				"level", candidate.Level.String(),
				"type", pair.addrType,
				"attempts", attempts)

			return Resolution{
				Status:      models.StatusSuccess,
				Coordinates: coords,
				Winner:      &Attempt{Candidate: candidate.Address, Level: candidate.Level, Type: pair.addrType},
				Attempts:    attempts,
			}
		}
	}

	return Resolution{Status: models.StatusFailed, Attempts: attempts}
}
