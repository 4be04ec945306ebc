package resolver_test

import (
	"log/slog"
	"testing"

	"github.com/UnknownOlympus/geobatch/internal/address"
	"github.com/UnknownOlympus/geobatch/internal/models"
	"github.com/UnknownOlympus/geobatch/internal/resolver"
	"github.com/UnknownOlympus/geobatch/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newNormalizer(t *testing.T) *address.Normalizer {
	t.Helper()
	rules, err := address.DefaultRules()
	require.NoError(t, err)
	return address.NewNormalizer(rules)
}

func triedAddresses(locator *mocks.Locator) []string {
	var out []string
	for _, call := range locator.Calls {
		if call.Method == "TryGeocode" {
			out = append(out, call.Arguments.String(1))
		}
	}
	return out
}

func TestResolver_Resolve(t *testing.T) {
	ctx := t.Context()
	logger := slog.Default()
	normalizer := newNormalizer(t)
	coords := &models.Coordinates{Latitude: 37.44, Longitude: 129.16}

	t.Run("walks the ladder in order and stops at the first hit", func(t *testing.T) {
		locator := mocks.NewLocator(t)
		locator.On("Requests").Return(0).Maybe()
		locator.On("TryGeocode", ctx, "강원도 삼척시 엑스포로 123", models.AddressRoad).
			Return(nil, models.OutcomeFailed).Once()
		locator.On("TryGeocode", ctx, "강원도 삼척시 엑스포로", models.AddressRoad).
			Return(nil, models.OutcomeFailed).Once()
		locator.On("TryGeocode", ctx, "강원도 삼척시", models.AddressRoad).
			Return(coords, models.OutcomeSuccess).Once()

		res := resolver.New(locator, normalizer, 100, logger).
			Resolve(ctx, "강원특별자치도 삼척시 엑스포로123", "강원도 삼척시 교동 1")

		assert.Equal(t, models.StatusSuccess, res.Status)
		assert.Equal(t, coords, res.Coordinates)
		require.NotNil(t, res.Winner)
		assert.Equal(t, address.LevelDistrict, res.Winner.Level)
		assert.Equal(t, models.AddressRoad, res.Winner.Type)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, []string{
			"강원도 삼척시 엑스포로 123",
			"강원도 삼척시 엑스포로",
			"강원도 삼척시",
		}, triedAddresses(locator))
	})

	t.Run("exact match needs a single attempt", func(t *testing.T) {
		locator := mocks.NewLocator(t)
		locator.On("Requests").Return(0).Maybe()
		locator.On("TryGeocode", ctx, "강원도 삼척시 엑스포로 123", models.AddressRoad).
			Return(coords, models.OutcomeSuccess).Once()

		res := resolver.New(locator, normalizer, 100, logger).Resolve(ctx, "강원도 삼척시 엑스포로 123", "")

		assert.Equal(t, models.StatusSuccess, res.Status)
		assert.Equal(t, address.LevelExact, res.Winner.Level)
		assert.Equal(t, 1, res.Attempts)
	})

	t.Run("falls back to the parcel address", func(t *testing.T) {
		locator := mocks.NewLocator(t)
		locator.On("Requests").Return(0).Maybe()
		locator.On("TryGeocode", ctx, mock.Anything, models.AddressRoad).Return(nil, models.OutcomeFailed)
		locator.On("TryGeocode", ctx, "경기도 파주시 월롱면 덕은리 123-4", models.AddressParcel).
			Return(coords, models.OutcomeSuccess).Once()

		res := resolver.New(locator, normalizer, 100, logger).
			Resolve(ctx, "경기도 파주시 월롱로 9", "경기도 파주시 원롱면 덕은리 123-4 (충전소)")

		assert.Equal(t, models.StatusSuccess, res.Status)
		assert.Equal(t, models.AddressParcel, res.Winner.Type)
		assert.Equal(t, []string{
			"경기도 파주시 월롱로 9",
			"경기도 파주시 월롱로",
			"경기도 파주시",
			"경기도 파주시 월롱면 덕은리 123-4",
		}, triedAddresses(locator))
	})

	t.Run("every candidate fails", func(t *testing.T) {
		locator := mocks.NewLocator(t)
		locator.On("Requests").Return(0).Maybe()
		locator.On("TryGeocode", ctx, mock.Anything, mock.Anything).Return(nil, models.OutcomeFailed)

		res := resolver.New(locator, normalizer, 100, logger).
			Resolve(ctx, "강원도 삼척시 엑스포로 123", "경기도 파주시 월롱면 덕은리 123-4")

		assert.Equal(t, models.StatusFailed, res.Status)
		assert.Nil(t, res.Coordinates)
		assert.Nil(t, res.Winner)
		assert.Equal(t, 6, res.Attempts)
	})

	t.Run("nothing usable to geocode", func(t *testing.T) {
		locator := mocks.NewLocator(t)
		locator.On("Requests").Return(0).Maybe()

		res := resolver.New(locator, normalizer, 100, logger).Resolve(ctx, "(지하) 충전기", "서울")

		assert.Equal(t, models.StatusEmpty, res.Status)
		locator.AssertNotCalled(t, "TryGeocode", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("budget exhausted", func(t *testing.T) {
		locator := mocks.NewLocator(t)
		locator.On("Requests").Return(100)

		r := resolver.New(locator, normalizer, 100, logger)
		res := r.Resolve(ctx, "강원도 삼척시 엑스포로 123", "")

		assert.Equal(t, models.StatusLimitReached, res.Status)
		assert.True(t, r.Exhausted())
		assert.Equal(t, 0, r.Remaining())
		locator.AssertNotCalled(t, "TryGeocode", mock.Anything, mock.Anything, mock.Anything)
	})
}
