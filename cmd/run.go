package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/UnknownOlympus/geobatch/internal/geocoding"
	"github.com/UnknownOlympus/geobatch/internal/metrics"
	"github.com/UnknownOlympus/geobatch/internal/progress"
	"github.com/UnknownOlympus/geobatch/internal/service"
)

var (
	runLimit int
	runDate  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Geocode pending rows until done, out of quota or interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runLimit >= 0 {
			cfg.Quota.DailyLimit = runLimit
		}
		if runDate != "" {
			cfg.Quota.Date = runDate
		}
		day, err := cfg.ProcessingDate()
		if err != nil {
			return err
		}

		runID := uuid.NewString()
		log := logger.With("run_id", runID)

		// Create a separate registry for metrics with exemplar
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		appMetrics := metrics.NewMetrics(reg)

		rateLimit := 0
		if cfg.Pacing.RequestDelay > 0 {
			rateLimit = max(1, int(time.Second/cfg.Pacing.RequestDelay))
		}
		provider, err := geocoding.NewProvider(geocoding.ProviderConfig{
			Type:      geocoding.ProviderType(cfg.Provider.Type),
			APIKey:    cfg.Provider.APIKey,
			RateLimit: rateLimit,
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("failed to create geocoding provider: %w", err)
		}

		client, err := geocoding.NewClient(provider, geocoding.ClientOptions{
			ProviderName: cfg.Provider.Type,
			RequestDelay: cfg.Pacing.RequestDelay,
			CacheSize:    cfg.Cache.Size,
			Metrics:      appMetrics,
			Logger:       log,
		})
		if err != nil {
			return err
		}

		normalizer, err := newNormalizer()
		if err != nil {
			return err
		}

		journal, err := progress.OpenJournal(filepath.Join(cfg.Output.Dir, progress.JournalFile), runID)
		if err != nil {
			return err
		}
		defer journal.Close()

		runner := service.NewRunner(logger, client, normalizer, newStore(), journal, appMetrics, service.Options{
			RunID:           runID,
			InputPath:       cfg.Input.Path,
			Layout:          layout(),
			DailyLimit:      cfg.Quota.DailyLimit,
			Date:            day,
			RowDelay:        cfg.Pacing.RowDelay,
			CheckpointEvery: cfg.Checkpoint.Every,
		})

		log.InfoContext(ctx, "Geocoding provider initialized", "type", cfg.Provider.Type)

		runCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		group, gctx := errgroup.WithContext(runCtx)

		if cfg.Metrics.Port > 0 {
			group.Go(func() error {
				return startMonitoringServer(gctx, log, reg, cfg.Metrics.Port)
			})
		}

		var report *service.Report
		group.Go(func() error {
			defer stopServer()
			var runErr error
			report, runErr = runner.Run(gctx)
			return runErr
		})

		if err = group.Wait(); err != nil {
			return err
		}

		printReport(cmd.OutOrStdout(), report)

		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", -1, "daily request limit (default from config)")
	runCmd.Flags().StringVar(&runDate, "date", "", "processing date for the quota, YYYY-MM-DD (default today)")
	rootCmd.AddCommand(runCmd)
}

func printReport(w io.Writer, report *service.Report) {
	if report == nil {
		return
	}

	fmt.Fprintf(w, "Run %s finished: %s\n", report.RunID, report.Outcome)
	fmt.Fprintf(w, "  total:          %d\n", report.Total)
	fmt.Fprintf(w, "  success:        %d\n", report.Success)
	fmt.Fprintf(w, "  failed:         %d\n", report.Failed)
	fmt.Fprintf(w, "  empty:          %d\n", report.Empty)
	fmt.Fprintf(w, "  pending:        %d\n", report.Pending)
	fmt.Fprintf(w, "  processed:      %d (skipped %d)\n", report.Processed, report.Skipped)
	fmt.Fprintf(w, "  requests:       %d (used today %d)\n", report.Requests, report.UsedToday)
	fmt.Fprintf(w, "  days remaining: %d\n", report.DaysRemaining)
	fmt.Fprintf(w, "  elapsed:        %s\n", report.Elapsed.Round(time.Second))
	if report.DailyBackup != "" {
		fmt.Fprintf(w, "  daily backup:   %s\n", report.DailyBackup)
	}
	if report.Final.Complete != "" {
		fmt.Fprintf(w, "  final output:   %s\n", report.Final.Complete)
	}
	if report.Final.Failed != "" {
		fmt.Fprintf(w, "  failed rows:    %s (%d)\n", report.Final.Failed, report.Final.FailedRows)
	}
}
