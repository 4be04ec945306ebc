package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/UnknownOlympus/geobatch/internal/models"
	"github.com/UnknownOlympus/geobatch/internal/repository"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Upsert resolved rows into PostgreSQL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		snap, err := newStore().Load()
		if err != nil {
			return err
		}

		dtb, err := repository.NewDatabase(ctx,
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer dtb.Close()

		repo := repository.NewRepository(dtb, logger)
		if err = repo.EnsureSchema(ctx); err != nil {
			return err
		}

		written, err := repo.UpsertResults(ctx, snap.Rows)
		if err != nil {
			return err
		}

		summary, err := repo.Summary(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Exported %d rows\n", written)
		statuses := make([]models.Status, 0, len(summary))
		for status := range summary {
			statuses = append(statuses, status)
		}
		slices.Sort(statuses)
		for _, status := range statuses {
			fmt.Fprintf(out, "  %-14s %d\n", status, summary[status])
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
