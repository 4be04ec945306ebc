// Package service drives a batch geocoding run from the saved snapshot to the
// next stop condition: all rows done, today's quota used up, or an interrupt.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/geobatch/internal/address"
	"github.com/UnknownOlympus/geobatch/internal/metrics"
	"github.com/UnknownOlympus/geobatch/internal/models"
	"github.com/UnknownOlympus/geobatch/internal/progress"
	"github.com/UnknownOlympus/geobatch/internal/resolver"
)

// progressEvery is the number of processed rows between two progress log lines.
const progressEvery = 50

// Outcome names the condition that ended a run.
type Outcome string

const (
	OutcomeAllDone        Outcome = "all_done"
	OutcomeQuotaExhausted Outcome = "quota_exhausted"
	OutcomeInterrupted    Outcome = "interrupted"
)

// Recorder receives every successful resolution.
type Recorder interface {
	Record(ctx context.Context, row models.Row, candidate string, addrType models.AddressType, level string)
}

// Options configures a Runner.
type Options struct {
	RunID           string
	InputPath       string
	Layout          progress.Layout
	DailyLimit      int           // Requests allowed per calendar day
	Date            time.Time     // Processing date for the daily quota, zero means today
	RowDelay        time.Duration // Pause between two rows
	CheckpointEvery int           // Processed rows between two snapshot flushes, 0 flushes only at the end
}

// Report summarizes a finished run.
type Report struct {
	RunID   string
	Outcome Outcome
	progress.Stats

	Processed     int
	Skipped       int // Skipped counts rows already in a terminal status when the run started.
	Requests      int
	UsedToday     int
	DaysRemaining int
	Elapsed       time.Duration
	DailyBackup   string
	Final         progress.FinalOutputs
}

// Runner processes pending rows of the snapshot one at a time.
type Runner struct {
	log        *slog.Logger
	locator    resolver.Locator
	normalizer *address.Normalizer
	store      *progress.Store
	journal    Recorder
	metrics    *metrics.Metrics
	opts       Options
	now        func() time.Time
}

// NewRunner creates a Runner. journal may be nil.
func NewRunner(
	log *slog.Logger,
	locator resolver.Locator,
	normalizer *address.Normalizer,
	store *progress.Store,
	journal Recorder,
	metrics *metrics.Metrics,
	opts Options,
) *Runner {
	return &Runner{
		log:        log.With("run_id", opts.RunID),
		locator:    locator,
		normalizer: normalizer,
		store:      store,
		journal:    journal,
		metrics:    metrics,
		opts:       opts,
		now:        time.Now,
	}
}

// Run resumes processing from the saved snapshot. Cancellation of ctx is
// observed between rows; the row in flight always completes and is saved.
// Only a failure to save the snapshot is returned as an error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := r.now()

	snap, err := r.loadOrInit(ctx)
	if err != nil {
		return nil, err
	}

	day := r.opts.Date
	if day.IsZero() {
		day = started
	}
	usedToday := snap.ResolvedOn(day)
	budget := max(0, r.opts.DailyLimit-usedToday)
	baseline := r.locator.Requests()
	res := resolver.New(r.locator, r.normalizer, baseline+budget, r.log)
	r.metrics.QuotaRemaining.Set(float64(budget))

	pending := snap.Pending()
	report := &Report{
		RunID:   r.opts.RunID,
		Outcome: OutcomeAllDone,
		Skipped: len(snap.Rows) - len(pending),
	}

	r.log.InfoContext(ctx, "Run started",
		"rows", len(snap.Rows),
		"pending", len(pending),
		"skipped", report.Skipped,
		"used_today", usedToday,
		"budget", budget)

	report.Outcome, report.Processed, err = r.process(ctx, snap, pending, res, started)
	if err != nil {
		return nil, err
	}

	if err = r.checkpoint(ctx, snap); err != nil {
		return nil, err
	}

	report.Requests = r.locator.Requests() - baseline
	if report.Requests > 0 {
		path, count, err := r.store.SaveDailyBackup(snap, r.now())
		if err != nil {
			r.log.ErrorContext(ctx, "Failed to write daily backup", "error", err)
		} else if path != "" {
			report.DailyBackup = path
			r.log.InfoContext(ctx, "Daily backup written", "path", path, "rows", count)
		}
	}

	report.Stats = snap.Stats()
	if report.Done() {
		final, err := r.store.WriteFinal(snap)
		if err != nil {
			r.log.ErrorContext(ctx, "Failed to write final outputs", "error", err)
		} else {
			report.Final = final
		}
	}

	report.UsedToday = snap.ResolvedOn(day)
	report.DaysRemaining = daysRemaining(report.Pending, r.opts.DailyLimit)
	report.Elapsed = r.now().Sub(started)

	r.log.InfoContext(ctx, "Run finished",
		"outcome", report.Outcome,
		"processed", report.Processed,
		"requests", report.Requests,
		"success", report.Success,
		"failed", report.Failed,
		"empty", report.Empty,
		"pending", report.Pending,
		"days_remaining", report.DaysRemaining,
		"elapsed", report.Elapsed)

	return report, nil
}

func (r *Runner) process(
	ctx context.Context,
	snap *progress.Snapshot,
	pending []int,
	res *resolver.Resolver,
	started time.Time,
) (Outcome, int, error) {
	processed := 0
	succeeded := 0

	for i, idx := range pending {
		if ctx.Err() != nil {
			return OutcomeInterrupted, processed, nil
		}
		if res.Exhausted() {
			return OutcomeQuotaExhausted, processed, nil
		}

		row := snap.Rows[idx]
		// Requests already sent are paid for; let them finish even when interrupted.
		resolution := res.Resolve(context.WithoutCancel(ctx), row.RoadAddress, row.ParcelAddress)
		if resolution.Status == models.StatusLimitReached {
			return OutcomeQuotaExhausted, processed, nil
		}

		row = row.WithResult(resolution.Coordinates, resolution.Status, r.now())
		snap.Set(idx, row)
		processed++

		r.metrics.RowsProcessed.WithLabelValues(string(resolution.Status)).Inc()
		r.metrics.QuotaRemaining.Set(float64(res.Remaining()))

		if resolution.Status == models.StatusSuccess {
			succeeded++
			if r.journal != nil {
				winner := resolution.Winner
				r.journal.Record(ctx, row, winner.Candidate, winner.Type, winner.Level.String())
			}
		}
		r.log.DebugContext(ctx, "Row processed",
			"row", idx,
			"status", resolution.Status,
			"attempts", resolution.Attempts)

		if r.opts.CheckpointEvery > 0 && processed%r.opts.CheckpointEvery == 0 {
			if err := r.checkpoint(ctx, snap); err != nil {
				return "", processed, err
			}
		}
		if processed%progressEvery == 0 {
			r.logProgress(ctx, processed, succeeded, len(pending), res, started)
		}

		last := i == len(pending)-1
		if last {
			break
		}
		if res.Exhausted() {
			return OutcomeQuotaExhausted, processed, nil
		}
		if !r.pause(ctx) {
			return OutcomeInterrupted, processed, nil
		}
	}

	return OutcomeAllDone, processed, nil
}

// pause waits for the row delay and reports false if ctx was canceled meanwhile.
func (r *Runner) pause(ctx context.Context) bool {
	if r.opts.RowDelay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(r.opts.RowDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) checkpoint(ctx context.Context, snap *progress.Snapshot) error {
	if err := r.store.Save(snap); err != nil {
		r.metrics.Checkpoints.WithLabelValues("error").Inc()
		r.log.ErrorContext(ctx, "Failed to save progress snapshot", "path", r.store.Path(), "error", err)
		return fmt.Errorf("failed to save progress snapshot: %w", err)
	}

	r.metrics.Checkpoints.WithLabelValues("ok").Inc()
	r.log.DebugContext(ctx, "Progress snapshot saved", "path", r.store.Path())

	return nil
}

func (r *Runner) logProgress(
	ctx context.Context,
	processed, succeeded, pending int,
	res *resolver.Resolver,
	started time.Time,
) {
	elapsed := r.now().Sub(started)
	speed := 0.0
	if elapsed > 0 {
		speed = float64(processed) / elapsed.Seconds()
	}
	left := min(pending-processed, res.Remaining())
	eta := time.Duration(0)
	if speed > 0 {
		eta = time.Duration(float64(left) / speed * float64(time.Second))
	}

	r.log.InfoContext(ctx, "Progress",
		"processed", processed,
		"pending", pending,
		"success_rate", float64(succeeded)/float64(processed),
		"rows_per_second", speed,
		"remaining_requests", res.Remaining(),
		"eta", eta.Round(time.Second))
}

// loadOrInit returns the snapshot to work on. A missing or unreadable snapshot
// is replaced by a fresh one built from the input; a snapshot whose row count
// no longer matches the input is rebuilt and its results carried over by index.
func (r *Runner) loadOrInit(ctx context.Context) (*progress.Snapshot, error) {
	snap, err := r.store.Load()
	switch {
	case errors.Is(err, progress.ErrNoSnapshot):
		r.log.InfoContext(ctx, "No progress snapshot found, starting from input", "input", r.opts.InputPath)
		return r.fromInput()
	case errors.Is(err, progress.ErrCorruptSnapshot):
		r.log.WarnContext(ctx, "Progress snapshot is unreadable, starting from input", "error", err)
		if broken, qerr := r.store.Quarantine(); qerr != nil {
			r.log.ErrorContext(ctx, "Failed to quarantine progress snapshot", "error", qerr)
		} else {
			r.log.WarnContext(ctx, "Unreadable snapshot kept for inspection", "path", broken)
		}
		return r.fromInput()
	case err != nil:
		return nil, err
	}

	if snap.Inconsistent > 0 {
		r.log.WarnContext(ctx, "Repaired inconsistent rows in progress snapshot", "rows", snap.Inconsistent)
	}

	fresh, err := r.fromInput()
	if err != nil {
		r.log.WarnContext(ctx, "Input unavailable, continuing with saved snapshot", "error", err)
		return snap, nil
	}
	if len(fresh.Rows) == len(snap.Rows) {
		return snap, nil
	}

	merged, stats := progress.CarryOver(fresh, snap)
	r.log.WarnContext(ctx, "Progress snapshot does not match input, rebuilt from input",
		"snapshot_rows", len(snap.Rows),
		"input_rows", len(fresh.Rows),
		"carried_over", stats.Applied,
		"dropped", stats.OutOfRange)

	return merged, nil
}

func (r *Runner) fromInput() (*progress.Snapshot, error) {
	snap, err := progress.FromInput(r.opts.InputPath, r.opts.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot: %w", err)
	}

	return snap, nil
}

// daysRemaining returns the number of quota days needed for the pending rows.
func daysRemaining(pending, dailyLimit int) int {
	if dailyLimit <= 0 || pending <= 0 {
		return 0
	}

	return (pending + dailyLimit - 1) / dailyLimit
}
