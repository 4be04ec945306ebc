package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/geobatch/internal/address"
	"github.com/UnknownOlympus/geobatch/internal/geocoding"
	"github.com/UnknownOlympus/geobatch/internal/metrics"
	"github.com/UnknownOlympus/geobatch/internal/models"
	"github.com/UnknownOlympus/geobatch/internal/progress"
	"github.com/UnknownOlympus/geobatch/test/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var layout = progress.Layout{RoadColumn: "주소", ParcelColumn: "지번 주소"}

type fixture struct {
	dir      string
	input    string
	store    *progress.Store
	provider *mocks.Provider
	metrics  *metrics.Metrics
	runner   *Runner
}

func roadAddress(i int) string {
	return fmt.Sprintf("강원도 삼척시 엑스포로 %d", i+1)
}

func parcelAddress(i int) string {
	return fmt.Sprintf("강원도 삼척시 교동 %d", i+1)
}

// writeInput writes an input file with n rows; rows listed in blank have no addresses.
func writeInput(t *testing.T, path string, n int, blank ...int) {
	t.Helper()

	var b strings.Builder
	b.WriteString("충전소명,주소,지번 주소\n")
	for i := range n {
		road, parcel := roadAddress(i), parcelAddress(i)
		for _, j := range blank {
			if i == j {
				road, parcel = "", ""
			}
		}
		fmt.Fprintf(&b, "충전소 %d,%s,%s\n", i, road, parcel)
	}
	filet.File(t, path, b.String())
}

func newFixture(t *testing.T, rows int, opts Options, blank ...int) *fixture {
	t.Helper()

	dir := filet.TmpDir(t, "")
	input := filepath.Join(dir, "input.csv")
	writeInput(t, input, rows, blank...)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appMetrics := metrics.NewMetrics(prometheus.NewRegistry())
	provider := mocks.NewProvider(t)

	client, err := geocoding.NewClient(provider, geocoding.ClientOptions{
		ProviderName: "vworld",
		Metrics:      appMetrics,
		Logger:       logger,
	})
	require.NoError(t, err)

	rules, err := address.DefaultRules()
	require.NoError(t, err)

	opts.InputPath = input
	opts.Layout = layout
	if opts.RunID == "" {
		opts.RunID = "test-run"
	}

	store := progress.NewStore(filepath.Join(dir, "output"), layout, logger)

	return &fixture{
		dir:      dir,
		input:    input,
		store:    store,
		provider: provider,
		metrics:  appMetrics,
		runner:   NewRunner(logger, client, address.NewNormalizer(rules), store, nil, appMetrics, opts),
	}
}

// answer resolves exactly the listed addresses.
func answer(known ...string) func(context.Context, string, models.AddressType) (*models.Coordinates, error) {
	return func(_ context.Context, addr string, _ models.AddressType) (*models.Coordinates, error) {
		for i, k := range known {
			if k == addr {
				return &models.Coordinates{Latitude: 37 + float64(i)/100, Longitude: 129}, nil
			}
		}
		return nil, geocoding.ErrNoResult
	}
}

// answerAll resolves every address at the first attempt.
func answerAll(_ context.Context, _ string, _ models.AddressType) (*models.Coordinates, error) {
	return &models.Coordinates{Latitude: 37.4, Longitude: 129.1}, nil
}

func requestedAddresses(provider *mocks.Provider) []string {
	out := make([]string, 0, len(provider.Calls))
	for _, call := range provider.Calls {
		out = append(out, call.Arguments.String(1))
	}
	return out
}

func TestRunner_ProcessesEveryPendingRow(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 3, Options{DailyLimit: 100}, 2)

	journalPath := filepath.Join(fx.dir, "output", progress.JournalFile)
	journal, err := progress.OpenJournal(journalPath, "test-run")
	require.NoError(t, err)
	fx.runner.journal = journal

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(answer(roadAddress(0)))

	report, err := fx.runner.Run(t.Context())
	require.NoError(t, err)
	require.NoError(t, journal.Close())

	assert.Equal(t, OutcomeAllDone, report.Outcome)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Empty)
	assert.Zero(t, report.Pending)
	assert.Equal(t, 3, report.Processed)
	assert.Zero(t, report.Skipped)
	// One hit for row 0, three road and three parcel candidates for row 1, nothing for row 2.
	assert.Equal(t, 7, report.Requests)
	assert.Equal(t, 3, report.UsedToday)
	assert.Zero(t, report.DaysRemaining)

	assert.NotEmpty(t, report.DailyBackup)
	assert.FileExists(t, report.DailyBackup)
	assert.FileExists(t, report.Final.Complete)
	assert.FileExists(t, report.Final.Failed)

	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, snap.Rows[0].Status)
	assert.Equal(t, models.StatusFailed, snap.Rows[1].Status)
	assert.Equal(t, models.StatusEmpty, snap.Rows[2].Status)
	for _, row := range snap.Rows {
		assert.False(t, row.ResolvedAt.IsZero())
	}

	entries, _, err := progress.ReplayJournal(journalPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Row)
	assert.Equal(t, "exact", entries[0].Level)

	assert.InDelta(t, 1, testutil.ToFloat64(fx.metrics.RowsProcessed.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(fx.metrics.RowsProcessed.WithLabelValues("failed")), 0)
	assert.InDelta(t, 93, testutil.ToFloat64(fx.metrics.QuotaRemaining), 0)
}

func TestRunner_ZeroQuotaIsIdempotent(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 4, Options{DailyLimit: 1})

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(answerAll).Once()

	first, err := fx.runner.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuotaExhausted, first.Outcome)
	assert.Equal(t, 1, first.Requests)
	assert.Equal(t, 3, first.Pending)

	before, err := os.ReadFile(fx.store.Path())
	require.NoError(t, err)

	for range 2 {
		fx.runner.opts.DailyLimit = 0
		report, err := fx.runner.Run(t.Context())
		require.NoError(t, err)

		assert.Equal(t, OutcomeQuotaExhausted, report.Outcome)
		assert.Zero(t, report.Requests)
		assert.Zero(t, report.Processed)
		assert.Equal(t, 1, report.Success)
		assert.Empty(t, report.DailyBackup)

		after, err := os.ReadFile(fx.store.Path())
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	}
}

func TestRunner_StopsAtQuotaBoundary(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 150, Options{DailyLimit: 100})

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(answerAll)

	report, err := fx.runner.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, OutcomeQuotaExhausted, report.Outcome)
	assert.Equal(t, 100, report.Requests)
	assert.Equal(t, 100, report.Processed)
	assert.Equal(t, 100, report.UsedToday)
	assert.Equal(t, 50, report.Pending)
	assert.Equal(t, 1, report.DaysRemaining)
	assert.Empty(t, report.Final.Complete)

	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, snap.Rows[99].Status)
	assert.Equal(t, models.StatusPending, snap.Rows[100].Status)
	assert.True(t, snap.Rows[100].ResolvedAt.IsZero())
	fx.provider.AssertNumberOfCalls(t, "Geocode", 100)
}

func TestRunner_BudgetCountsRowsResolvedToday(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 5, Options{DailyLimit: 3})

	snap, err := progress.FromInput(fx.input, layout)
	require.NoError(t, err)
	coords := &models.Coordinates{Latitude: 37.1, Longitude: 129.1}
	snap.Set(0, snap.Rows[0].WithResult(coords, models.StatusSuccess, time.Now()))
	snap.Set(1, snap.Rows[1].WithResult(nil, models.StatusFailed, time.Now()))
	require.NoError(t, fx.store.Save(snap))

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(answerAll).Once()

	report, err := fx.runner.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, OutcomeQuotaExhausted, report.Outcome)
	assert.Equal(t, 1, report.Requests)
	assert.Equal(t, 3, report.UsedToday)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, []string{roadAddress(2)}, requestedAddresses(fx.provider))
}

func TestRunner_SkipsTerminalRows(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 5, Options{DailyLimit: 100})

	yesterday := time.Now().AddDate(0, 0, -1)
	snap, err := progress.FromInput(fx.input, layout)
	require.NoError(t, err)
	kept := &models.Coordinates{Latitude: 35.5, Longitude: 128.5}
	snap.Set(0, snap.Rows[0].WithResult(kept, models.StatusSuccess, yesterday))
	snap.Set(1, snap.Rows[1].WithResult(nil, models.StatusFailed, yesterday))
	snap.Set(2, snap.Rows[2].WithResult(nil, models.StatusEmpty, yesterday))
	snap.Set(4, snap.Rows[4].WithResult(nil, models.StatusLimitReached, yesterday))
	require.NoError(t, fx.store.Save(snap))
	successBefore := snap.Stats().Success

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(answerAll)

	report, err := fx.runner.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAllDone, report.Outcome)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, []string{roadAddress(3), roadAddress(4)}, requestedAddresses(fx.provider))
	assert.GreaterOrEqual(t, report.Success, successBefore)

	after, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, kept, after.Rows[0].Coordinates)
	assert.Equal(t, models.StatusFailed, after.Rows[1].Status)
	assert.Equal(t, models.StatusEmpty, after.Rows[2].Status)
	assert.Equal(t, models.StatusSuccess, after.Rows[4].Status)
}

func TestRunner_InterruptFinishesRowInFlight(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 4, Options{DailyLimit: 100, RowDelay: time.Hour})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(
		func(reqCtx context.Context, _ string, _ models.AddressType) (*models.Coordinates, error) {
			cancel()
			if reqCtx.Err() != nil {
				return nil, reqCtx.Err()
			}
			return &models.Coordinates{Latitude: 37.4, Longitude: 129.1}, nil
		}).Once()

	started := time.Now()
	report, err := fx.runner.Run(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(started), time.Minute)
	assert.Equal(t, OutcomeInterrupted, report.Outcome)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 3, report.Pending)

	snap, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, snap.Rows[0].Status)
	assert.Equal(t, []int{1, 2, 3}, snap.Pending())
}

func TestRunner_QuarantinesCorruptSnapshot(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 2, Options{DailyLimit: 100})

	require.NoError(t, os.MkdirAll(fx.store.Dir(), 0o755))
	filet.File(t, fx.store.Path(), "a\nb,c\n")

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(answerAll)

	report, err := fx.runner.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Success)

	broken, err := filepath.Glob(filepath.Join(fx.store.Dir(), "progress_broken_*.csv"))
	require.NoError(t, err)
	require.Len(t, broken, 1)

	data, err := os.ReadFile(broken[0])
	require.NoError(t, err)
	assert.Equal(t, "a\nb,c\n", string(data))
}

func TestRunner_RebuildsWhenInputChanged(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 4, Options{DailyLimit: 100})

	yesterday := time.Now().AddDate(0, 0, -1).Truncate(time.Second)
	snap, err := progress.FromInput(fx.input, layout)
	require.NoError(t, err)
	snap.Rows = snap.Rows[:3]
	kept := &models.Coordinates{Latitude: 35.5, Longitude: 128.5}
	snap.Set(0, snap.Rows[0].WithResult(nil, models.StatusFailed, yesterday))
	snap.Set(1, snap.Rows[1].WithResult(kept, models.StatusSuccess, yesterday))
	snap.Set(2, snap.Rows[2].WithResult(nil, models.StatusEmpty, yesterday))
	require.NoError(t, fx.store.Save(snap))

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(answerAll)

	report, err := fx.runner.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 2, report.Success)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Empty)
	assert.Equal(t, 1, report.UsedToday)
	assert.Equal(t, []string{roadAddress(3)}, requestedAddresses(fx.provider))

	after, err := fx.store.Load()
	require.NoError(t, err)
	require.Len(t, after.Rows, 4)
	assert.Equal(t, models.StatusFailed, after.Rows[0].Status)
	assert.True(t, yesterday.Equal(after.Rows[0].ResolvedAt))
	assert.Equal(t, kept, after.Rows[1].Coordinates)
	assert.Equal(t, models.StatusEmpty, after.Rows[2].Status)
	assert.Equal(t, models.StatusSuccess, after.Rows[3].Status)
}

func TestRunner_CheckpointCadence(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 5, Options{DailyLimit: 100, CheckpointEvery: 2})

	fx.provider.On("Geocode", mock.Anything, mock.Anything, mock.Anything).Return(answerAll)

	_, err := fx.runner.Run(t.Context())
	require.NoError(t, err)

	assert.InDelta(t, 3, testutil.ToFloat64(fx.metrics.Checkpoints.WithLabelValues("ok")), 0)
	assert.Zero(t, testutil.ToFloat64(fx.metrics.Checkpoints.WithLabelValues("error")))
}

func TestRunner_MissingInput(t *testing.T) {
	defer filet.CleanUp(t)
	fx := newFixture(t, 1, Options{DailyLimit: 100})
	require.NoError(t, os.Remove(fx.input))

	_, err := fx.runner.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize snapshot")
}

func TestDaysRemaining(t *testing.T) {
	tests := []struct {
		pending, limit, want int
	}{
		{0, 40000, 0},
		{1, 40000, 1},
		{40000, 40000, 1},
		{40001, 40000, 2},
		{10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.pending, tt.limit), func(t *testing.T) {
			assert.Equal(t, tt.want, daysRemaining(tt.pending, tt.limit))
		})
	}
}
