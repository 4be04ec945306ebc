package progress

import "github.com/UnknownOlympus/geobatch/internal/models"

// ReconcileStats reports what a reconciliation changed.
type ReconcileStats struct {
	Applied    int // Applied counts rows that gained coordinates.
	Kept       int // Kept counts secondary results ignored because the row was already resolved.
	OutOfRange int // OutOfRange counts secondary rows whose index is not in the primary.
}

// Reconcile returns a copy of primary where every row without coordinates takes
// the first resolved result found for its index in secondaries, in argument
// order. Rows that already carry coordinates are never overwritten.
func Reconcile(primary *Snapshot, secondaries ...*Snapshot) (*Snapshot, ReconcileStats) {
	out := primary.Clone()
	var stats ReconcileStats

	for _, secondary := range secondaries {
		if secondary == nil {
			continue
		}
		for _, row := range secondary.Rows {
			if row.Index < 0 || row.Index >= len(out.Rows) {
				stats.OutOfRange++
				continue
			}
			if !row.Resolved() {
				continue
			}

			target := out.Rows[row.Index]
			if target.Resolved() {
				stats.Kept++
				continue
			}

			out.Set(row.Index, target.WithResult(row.Coordinates, models.StatusSuccess, row.ResolvedAt))
			stats.Applied++
		}
	}

	return out, stats
}

// CarryOver returns a copy of fresh where every row takes the full result state
// (status, coordinates, resolved_at) of the row with the same index in old.
// Source columns and addresses stay those of fresh. Used when the input changed
// under a saved snapshot, so that failed and empty rows keep their terminal status.
func CarryOver(fresh, old *Snapshot) (*Snapshot, ReconcileStats) {
	out := fresh.Clone()
	var stats ReconcileStats

	for _, row := range old.Rows {
		if row.Index < 0 || row.Index >= len(out.Rows) {
			stats.OutOfRange++
			continue
		}
		if row.Status == models.StatusPending {
			continue
		}

		out.Set(row.Index, out.Rows[row.Index].WithResult(row.Coordinates, row.Status, row.ResolvedAt))
		stats.Applied++
	}

	return out, stats
}
