package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

const createTableQuery = `
	CREATE TABLE IF NOT EXISTS public.charger_coordinates (
		row_index      INTEGER PRIMARY KEY,
		road_address   TEXT NOT NULL DEFAULT '',
		parcel_address TEXT NOT NULL DEFAULT '',
		latitude       DOUBLE PRECISION,
		longitude      DOUBLE PRECISION,
		status         TEXT NOT NULL,
		resolved_at    TIMESTAMPTZ
	);
`

const upsertResultQuery = `
	INSERT INTO public.charger_coordinates
		(row_index, road_address, parcel_address, latitude, longitude, status, resolved_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (row_index) DO UPDATE SET
		road_address = EXCLUDED.road_address,
		parcel_address = EXCLUDED.parcel_address,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		status = EXCLUDED.status,
		resolved_at = EXCLUDED.resolved_at;
`

const summaryQuery = `
	SELECT status, count(*)
	FROM public.charger_coordinates
	GROUP BY status
	ORDER BY status;
`

// EnsureSchema creates the export table if it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create charger_coordinates table: %w", err)
	}

	return nil
}

// UpsertResults writes every row that reached a terminal status in a single
// transaction and returns the number of rows written. Pending rows are skipped.
// Either all rows are written or none.
func (r *Repository) UpsertResults(ctx context.Context, rows []models.Row) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	written := 0
	for _, row := range rows {
		if row.Status.Eligible() {
			continue
		}

		var lat, lon, resolvedAt any
		if row.Coordinates != nil {
			lat, lon = row.Coordinates.Latitude, row.Coordinates.Longitude
		}
		if !row.ResolvedAt.IsZero() {
			resolvedAt = row.ResolvedAt
		}

		_, err = tx.Exec(ctx, upsertResultQuery,
			row.Index, row.RoadAddress, row.ParcelAddress, lat, lon, string(row.Status), resolvedAt)
		if err != nil {
			r.rollback(ctx, tx)
			return 0, fmt.Errorf("failed to upsert row %d: %w", row.Index, err)
		}
		written++
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit results: %w", err)
	}

	r.log.DebugContext(ctx, "Results exported", "rows", written)

	return written, nil
}

func (r *Repository) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil {
		r.log.ErrorContext(ctx, "Failed to roll back export transaction", "error", err)
	}
}

// Summary returns the number of exported rows per status.
func (r *Repository) Summary(ctx context.Context) (map[models.Status]int, error) {
	rows, err := r.db.Query(ctx, summaryQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query export summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[models.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if errScan := rows.Scan(&status, &count); errScan != nil {
			return nil, fmt.Errorf("failed to scan export summary: %w", errScan)
		}
		summary[models.Status(status)] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return summary, nil
}
