package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/UnknownOlympus/geobatch/internal/config"
	"github.com/UnknownOlympus/geobatch/internal/progress"
)

const (
	orderNewest = "newest"
	orderOldest = "oldest"
)

var (
	recoverDryRun bool
	backupsOrder  string
	backupsDates  []string
	journalPath   string
	rebuildReset  bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Restore lost progress from daily backups, the journal or the input",
}

var recoverBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Merge daily backups into the snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if backupsOrder != orderNewest && backupsOrder != orderOldest {
			return fmt.Errorf("--order must be %s or %s", orderNewest, orderOldest)
		}

		days := make([]time.Time, 0, len(backupsDates))
		for _, raw := range backupsDates {
			day, err := time.ParseInLocation(config.DateLayout, raw, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --dates value %q: %w", raw, err)
			}
			days = append(days, day)
		}

		store := newStore()
		backups, err := store.LoadDailyBackups(days...)
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No daily backups found.")
			return nil
		}
		if backupsOrder == orderNewest {
			slices.Reverse(backups)
		}

		secondaries := make([]*progress.Snapshot, 0, len(backups))
		for _, b := range backups {
			fmt.Fprintf(cmd.OutOrStdout(), "Using %s (%d rows)\n", filepath.Base(b.Path), len(b.Snapshot.Rows))
			secondaries = append(secondaries, b.Snapshot)
		}

		primary, err := loadPrimary(store)
		if err != nil {
			return err
		}

		merged, stats := progress.Reconcile(primary, secondaries...)

		return finishRecovery(cmd.OutOrStdout(), store, primary, merged, stats)
	},
}

var recoverJournalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Rebuild results from the geocoding journal and merge them into the snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := journalPath
		if path == "" {
			path = filepath.Join(cfg.Output.Dir, progress.JournalFile)
		}

		entries, skipped, err := progress.ReplayJournal(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Journal %s: %d entries, %d unusable lines\n", path, len(entries), skipped)

		normalizer, err := newNormalizer()
		if err != nil {
			return err
		}
		fresh, err := progress.FromInput(cfg.Input.Path, layout())
		if err != nil {
			return err
		}
		rebuilt, rebuildStats := progress.RebuildFromJournal(fresh, entries, normalizer.Normalize)
		fmt.Fprintf(cmd.OutOrStdout(), "Matched %d rows by index and %d by address\n",
			rebuildStats.ByIndex, rebuildStats.ByAddress)

		store := newStore()
		primary, err := loadPrimary(store)
		if err != nil {
			return err
		}

		merged, stats := progress.Reconcile(primary, rebuilt)

		return finishRecovery(cmd.OutOrStdout(), store, primary, merged, stats)
	},
}

var recoverRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the snapshot from the input, keeping results of the current snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store := newStore()
		out := cmd.OutOrStdout()

		fresh, err := progress.FromInput(cfg.Input.Path, layout())
		if err != nil {
			return err
		}

		current, err := store.Load()
		switch {
		case errors.Is(err, progress.ErrNoSnapshot):
			current = nil
		case err != nil:
			return err
		}

		if rebuildReset {
			if recoverDryRun {
				fmt.Fprintf(out, "Dry run, snapshot would be reset to %d pending rows.\n", len(fresh.Rows))
				return nil
			}
			if current != nil {
				archived, err := store.Archive()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Previous snapshot kept as %s\n", archived)
			}
			if err = store.Save(fresh); err != nil {
				return err
			}
			fmt.Fprintf(out, "Snapshot reset to %d pending rows.\n", len(fresh.Rows))
			return nil
		}

		if current == nil {
			return finishRecovery(out, store, fresh, fresh, progress.ReconcileStats{})
		}

		fmt.Fprintf(out, "Snapshot rows: %d, input rows: %d\n", len(current.Rows), len(fresh.Rows))
		merged, stats := progress.CarryOver(fresh, current)

		return finishRecovery(out, store, current, merged, stats)
	},
}

func init() {
	recoverCmd.PersistentFlags().BoolVar(&recoverDryRun, "dry-run", false, "report what would change without saving")

	recoverBackupsCmd.Flags().StringVar(&backupsOrder, "order", orderNewest, "which backups take precedence: newest or oldest")
	recoverBackupsCmd.Flags().StringSliceVar(&backupsDates, "dates", nil, "only use backups of these days, YYYY-MM-DD")

	recoverJournalCmd.Flags().StringVar(&journalPath, "journal", "", "journal or legacy log file (default: journal in the output directory)")

	recoverRebuildCmd.Flags().BoolVar(&rebuildReset, "reset", false, "discard all progress after archiving the current snapshot")

	recoverCmd.AddCommand(recoverBackupsCmd, recoverJournalCmd, recoverRebuildCmd)
	rootCmd.AddCommand(recoverCmd)
}

func layout() progress.Layout {
	return progress.Layout{RoadColumn: cfg.Input.RoadColumn, ParcelColumn: cfg.Input.ParcelColumn}
}

// loadPrimary returns the current snapshot, or a fresh one from the input when
// there is none or it cannot be read.
func loadPrimary(store *progress.Store) (*progress.Snapshot, error) {
	snap, err := store.Load()
	switch {
	case errors.Is(err, progress.ErrNoSnapshot):
		logger.Warn("No progress snapshot, recovering into a fresh one", "input", cfg.Input.Path)
		return progress.FromInput(cfg.Input.Path, layout())
	case errors.Is(err, progress.ErrCorruptSnapshot):
		broken, qerr := store.Quarantine()
		if qerr != nil {
			return nil, qerr
		}
		logger.Warn("Progress snapshot is unreadable, recovering into a fresh one", "kept_as", broken, "error", err)
		return progress.FromInput(cfg.Input.Path, layout())
	case err != nil:
		return nil, err
	}

	return snap, nil
}

func finishRecovery(
	w io.Writer,
	store *progress.Store,
	before, after *progress.Snapshot,
	stats progress.ReconcileStats,
) error {
	was, now := before.Stats(), after.Stats()
	fmt.Fprintf(w, "Recovered %d rows (%d already resolved, %d outside the input)\n",
		stats.Applied, stats.Kept, stats.OutOfRange)
	fmt.Fprintf(w, "Success: %d -> %d, pending: %d -> %d\n", was.Success, now.Success, was.Pending, now.Pending)

	if recoverDryRun {
		fmt.Fprintln(w, "Dry run, snapshot not saved.")
		return nil
	}

	if err := store.Save(after); err != nil {
		return err
	}
	fmt.Fprintf(w, "Snapshot saved to %s\n", store.Path())

	return nil
}
