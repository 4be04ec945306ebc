// Package progress persists the state of a batch run: the live snapshot with
// its atomic checkpoints, per-day backups, the success journal, and the
// reconciliation of these sources when state has been lost.
package progress

import (
	"time"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

// Snapshot is the full processing state of the input, one row per input record.
// Secondary snapshots built from backups or the journal may hold only a subset
// of the rows; their Index still refers to the input position.
type Snapshot struct {
	Columns      []string     // Columns is the original input header.
	Rows         []models.Row // Rows are ordered by Index.
	Inconsistent int          // Inconsistent counts rows repaired while loading.
}

// Stats summarizes a snapshot by status.
type Stats struct {
	Total   int
	Success int
	Failed  int
	Empty   int
	Pending int // Pending includes rows left at limit_reached.
}

// Done reports whether no row is left to process.
func (s Stats) Done() bool {
	return s.Pending == 0
}

// Set replaces the row at index i.
func (s *Snapshot) Set(i int, row models.Row) {
	row.Index = i
	s.Rows[i] = row
}

// Stats counts the rows of the snapshot by status.
func (s *Snapshot) Stats() Stats {
	stats := Stats{Total: len(s.Rows)}
	for _, row := range s.Rows {
		switch row.Status {
		case models.StatusSuccess:
			stats.Success++
		case models.StatusFailed:
			stats.Failed++
		case models.StatusEmpty:
			stats.Empty++
		default:
			stats.Pending++
		}
	}

	return stats
}

// ResolvedOn counts rows that reached a terminal status on the calendar day of day.
func (s *Snapshot) ResolvedOn(day time.Time) int {
	count := 0
	for _, row := range s.Rows {
		if !row.Status.Eligible() && sameDay(row.ResolvedAt, day) {
			count++
		}
	}

	return count
}

// Pending returns the indices of rows that still need a geocoding attempt.
func (s *Snapshot) Pending() []int {
	var out []int
	for i, row := range s.Rows {
		if row.Status.Eligible() {
			out = append(out, i)
		}
	}

	return out
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Columns:      append([]string(nil), s.Columns...),
		Rows:         make([]models.Row, len(s.Rows)),
		Inconsistent: s.Inconsistent,
	}
	for i, row := range s.Rows {
		out.Rows[i] = row.WithResult(row.Coordinates, row.Status, row.ResolvedAt)
	}

	return out
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.In(time.Local).Date()
	by, bm, bd := b.In(time.Local).Date()

	return ay == by && am == bm && ad == bd
}
