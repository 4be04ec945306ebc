package progress_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/UnknownOlympus/geobatch/internal/models"
	"github.com/UnknownOlympus/geobatch/internal/progress"
)

var (
	testLayout  = progress.Layout{RoadColumn: "주소", ParcelColumn: "지번 주소"}
	testColumns = []string{"충전소명", "주소", "지번 주소"}
	discard     = slog.New(slog.NewTextHandler(io.Discard, nil))
	testDay     = time.Date(2025, 10, 20, 13, 54, 36, 0, time.Local)
)

// newSnapshot returns an all-pending snapshot with n rows.
func newSnapshot(t *testing.T, n int) *progress.Snapshot {
	t.Helper()

	snap := &progress.Snapshot{Columns: testColumns}
	for i := range n {
		road := fmt.Sprintf("강원도 삼척시 엑스포로 %d", i+1)
		parcel := fmt.Sprintf("강원도 삼척시 교동 %d", i+1)
		snap.Rows = append(snap.Rows, models.Row{
			Index:         i,
			Source:        []string{fmt.Sprintf("충전소 %d", i), road, parcel},
			RoadAddress:   road,
			ParcelAddress: parcel,
			Status:        models.StatusPending,
		})
	}

	return snap
}

func resolve(snap *progress.Snapshot, i int, lat, lon float64, at time.Time) {
	snap.Set(i, snap.Rows[i].WithResult(&models.Coordinates{Latitude: lat, Longitude: lon}, models.StatusSuccess, at))
}

func mark(snap *progress.Snapshot, i int, status models.Status, at time.Time) {
	snap.Set(i, snap.Rows[i].WithResult(nil, status, at))
}
