package progress

import (
	"io"
	"path/filepath"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

const (
	finalFile  = "geocoded_final_complete.csv"
	failedFile = "geocoded_failed.csv"
)

// FinalOutputs lists the files written by WriteFinal.
type FinalOutputs struct {
	Complete   string
	Failed     string // Failed is empty when no row failed.
	FailedRows int
}

// WriteFinal writes the complete result file and, when some rows failed, a
// separate file with only those rows keyed by input index.
func (s *Store) WriteFinal(snap *Snapshot) (FinalOutputs, error) {
	out := FinalOutputs{Complete: filepath.Join(s.dir, finalFile)}

	err := s.writeAtomic(out.Complete, func(w io.Writer) error {
		return writeTable(w, snap.Columns, snap.Rows, false)
	}, nil)
	if err != nil {
		return FinalOutputs{}, err
	}

	var failed []models.Row
	for _, row := range snap.Rows {
		if row.Status == models.StatusFailed {
			failed = append(failed, row)
		}
	}
	if len(failed) == 0 {
		return out, nil
	}

	out.Failed = filepath.Join(s.dir, failedFile)
	out.FailedRows = len(failed)
	err = s.writeAtomic(out.Failed, func(w io.Writer) error {
		return writeTable(w, snap.Columns, failed, true)
	}, nil)
	if err != nil {
		return FinalOutputs{}, err
	}

	return out, nil
}
