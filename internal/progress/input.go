package progress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

// FromInput builds an all-pending snapshot from the raw input CSV. The parcel
// column is optional; rows of an input without it carry no parcel address.
func FromInput(path string, layout Layout) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	reader := newCSVReader(file)

	columns, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("input %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input header: %w", err)
	}

	road := slices.Index(columns, layout.RoadColumn)
	if road < 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingColumn, layout.RoadColumn, path)
	}
	parcel := slices.Index(columns, layout.ParcelColumn)

	snap := &Snapshot{Columns: columns}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read input row %d: %w", len(snap.Rows), err)
		}

		row := models.Row{
			Index:       len(snap.Rows),
			Source:      record,
			RoadAddress: record[road],
			Status:      models.StatusPending,
		}
		if parcel >= 0 {
			row.ParcelAddress = record[parcel]
		}
		snap.Rows = append(snap.Rows, row)
	}

	return snap, nil
}
