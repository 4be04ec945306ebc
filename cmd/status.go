package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/UnknownOlympus/geobatch/internal/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of the current snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store := newStore()
		out := cmd.OutOrStdout()

		snap, err := store.Load()
		switch {
		case errors.Is(err, progress.ErrNoSnapshot):
			fmt.Fprintf(out, "No progress snapshot at %s yet.\n", store.Path())
		case err != nil:
			return err
		default:
			day, err := processingDay()
			if err != nil {
				return err
			}
			if err = printStatus(out, snap, snap.ResolvedOn(day), cfg.Quota.DailyLimit); err != nil {
				return err
			}
		}

		files, err := store.OutputFiles()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}

		fmt.Fprintf(out, "\nFiles in %s:\n", store.Dir())
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, f := range files {
			fmt.Fprintf(tw, "  %s\t%d bytes\t%s\n", f.Name(), f.Size(), f.ModTime().Format(progress.TimeLayout))
		}

		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatus(w io.Writer, snap *progress.Snapshot, usedToday, dailyLimit int) error {
	stats := snap.Stats()
	percent := func(n int) float64 {
		if stats.Total == 0 {
			return 0
		}
		return float64(n) / float64(stats.Total) * 100
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "total\t%d\t\n", stats.Total)
	fmt.Fprintf(tw, "success\t%d\t%.1f%%\t\n", stats.Success, percent(stats.Success))
	fmt.Fprintf(tw, "failed\t%d\t%.1f%%\t\n", stats.Failed, percent(stats.Failed))
	fmt.Fprintf(tw, "empty\t%d\t%.1f%%\t\n", stats.Empty, percent(stats.Empty))
	fmt.Fprintf(tw, "pending\t%d\t%.1f%%\t\n", stats.Pending, percent(stats.Pending))
	fmt.Fprintf(tw, "resolved today\t%d\t\n", usedToday)
	if snap.Inconsistent > 0 {
		fmt.Fprintf(tw, "repaired on load\t%d\t\n", snap.Inconsistent)
	}
	if dailyLimit > 0 {
		fmt.Fprintf(tw, "days remaining\t%d\t\n", (stats.Pending+dailyLimit-1)/dailyLimit)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to print status: %w", err)
	}

	return nil
}
