package progress

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

const (
	dailyPrefix       = "daily_"
	dailyBrokenPrefix = "daily_broken_"
	dailyLayout       = "20060102"
)

// DailyBackup is one daily_YYYYMMDD.csv file.
type DailyBackup struct {
	Day      time.Time
	Path     string
	Snapshot *Snapshot // Snapshot holds only the rows of that day, keyed by their input index.
}

// DailyPath returns the backup file for the calendar day of day.
func (s *Store) DailyPath(day time.Time) string {
	return filepath.Join(s.dir, dailyPrefix+day.In(time.Local).Format(dailyLayout)+outputExtension)
}

// SaveDailyBackup writes the rows resolved on day to that day's backup file.
// An existing file is merged by row index, newer rows replacing older ones.
// An existing file that cannot be read or has other columns is moved aside as
// daily_broken_<day>_<timestamp>.csv and replaced. It returns the file path and
// the number of rows it now holds; nothing is written when no row was resolved
// that day.
func (s *Store) SaveDailyBackup(snap *Snapshot, day time.Time) (string, int, error) {
	merged := make(map[int]models.Row)
	for _, row := range snap.Rows {
		if !row.Status.Eligible() && sameDay(row.ResolvedAt, day) {
			merged[row.Index] = row
		}
	}
	if len(merged) == 0 {
		return "", 0, nil
	}

	path := s.DailyPath(day)
	existing, err := s.readDaily(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil || !slices.Equal(existing.Columns, snap.Columns):
		if err == nil {
			err = errors.New("columns differ from the snapshot")
		}
		broken, qerr := s.quarantineDaily(path, day)
		if qerr != nil {
			return "", 0, qerr
		}
		s.log.Warn("Unusable daily backup moved aside, writing a fresh one",
			"path", path, "kept_as", broken, "error", err)
	default:
		for _, row := range existing.Rows {
			if _, ok := merged[row.Index]; !ok {
				merged[row.Index] = row
			}
		}
	}

	rows := make([]models.Row, 0, len(merged))
	for _, idx := range slices.Sorted(maps.Keys(merged)) {
		rows = append(rows, merged[idx])
	}

	err = s.writeAtomic(path, func(w io.Writer) error {
		return writeTable(w, snap.Columns, rows, true)
	}, nil)
	if err != nil {
		return "", 0, err
	}

	return path, len(rows), nil
}

// LoadDailyBackups loads the daily backups of the given days, or all of them
// when no day is given, sorted from oldest to newest. Unreadable files are
// skipped with a warning.
func (s *Store) LoadDailyBackups(days ...time.Time) ([]DailyBackup, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, dailyPrefix+"*"+outputExtension))
	if err != nil {
		return nil, fmt.Errorf("failed to list daily backups: %w", err)
	}

	var out []DailyBackup
	for _, path := range paths {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), dailyPrefix), outputExtension)
		day, err := time.ParseInLocation(dailyLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		if len(days) > 0 && !slices.ContainsFunc(days, func(d time.Time) bool { return sameDay(d, day) }) {
			continue
		}

		snap, err := s.readDaily(path)
		if err != nil {
			s.log.Warn("Skipping unreadable daily backup", "path", path, "error", err)
			continue
		}
		out = append(out, DailyBackup{Day: day, Path: path, Snapshot: snap})
	}

	slices.SortFunc(out, func(a, b DailyBackup) int {
		return a.Day.Compare(b.Day)
	})

	return out, nil
}

func (s *Store) quarantineDaily(path string, day time.Time) (string, error) {
	target := filepath.Join(s.dir, dailyBrokenPrefix+day.In(time.Local).Format(dailyLayout)+
		"_"+s.now().Format(copyStampLayout)+outputExtension)
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("failed to move daily backup %s aside: %w", path, err)
	}

	return target, nil
}

func (s *Store) readDaily(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	snap, err := readTable(file, s.layout, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily backup %s: %w", path, err)
	}

	return snap, nil
}
