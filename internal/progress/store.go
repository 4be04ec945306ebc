package progress

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	progressFile    = "progress.csv"
	progressBackup  = progressFile + ".backup"
	brokenPrefix    = "progress_broken_"
	archivePrefix   = "progress_old_"
	copyStampLayout = "20060102_150405"
	outputDirPerm   = 0o755
	outputExtension = ".csv"
)

// Store owns the files in the output directory.
type Store struct {
	dir    string
	layout Layout
	log    *slog.Logger
	now    func() time.Time

	// beforeReplace runs after the new snapshot is on disk and the previous one
	// has been copied aside, right before the rename that publishes it.
	beforeReplace func() error
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, layout Layout, log *slog.Logger) *Store {
	return &Store{
		dir:    dir,
		layout: layout,
		log:    log,
		now:    time.Now,
	}
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the location of the live progress snapshot.
func (s *Store) Path() string {
	return filepath.Join(s.dir, progressFile)
}

// Load reads the live snapshot. A missing file yields ErrNoSnapshot and an
// unreadable one an error wrapping ErrCorruptSnapshot.
func (s *Store) Load() (*Snapshot, error) {
	file, err := os.Open(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	defer file.Close()

	snap, err := readTable(file, s.layout, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptSnapshot, s.Path(), err)
	}

	return snap, nil
}

// Save atomically replaces the live snapshot. The previous snapshot is kept as
// progress.csv.backup. On any error the live file is left untouched.
func (s *Store) Save(snap *Snapshot) error {
	live := s.Path()

	return s.writeAtomic(live, func(w io.Writer) error {
		return writeTable(w, snap.Columns, snap.Rows, false)
	}, func() error {
		if err := copyFile(live, filepath.Join(s.dir, progressBackup)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to back up previous snapshot: %w", err)
		}
		if s.beforeReplace != nil {
			return s.beforeReplace()
		}
		return nil
	})
}

// Quarantine copies the live snapshot aside as progress_broken_<timestamp>.csv.
func (s *Store) Quarantine() (string, error) {
	return s.copyAside(brokenPrefix)
}

// Archive copies the live snapshot aside as progress_old_<timestamp>.csv.
func (s *Store) Archive() (string, error) {
	return s.copyAside(archivePrefix)
}

func (s *Store) copyAside(prefix string) (string, error) {
	target := filepath.Join(s.dir, prefix+s.now().Format(copyStampLayout)+outputExtension)
	if err := copyFile(s.Path(), target); err != nil {
		return "", fmt.Errorf("failed to copy snapshot to %s: %w", target, err)
	}

	return target, nil
}

// OutputFiles lists the CSV files in the output directory, sorted by name.
func (s *Store) OutputFiles() ([]fs.FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list output directory: %w", err)
	}

	var out []fs.FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), outputExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b fs.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})

	return out, nil
}

// writeAtomic writes a temporary file next to path, syncs it, runs prepare and
// renames the temporary file over path.
func (s *Store) writeAtomic(path string, write func(io.Writer) error, prepare func() error) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), outputDirPerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}

	if prepare != nil {
		if err = prepare(); err != nil {
			return err
		}
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	syncDir(filepath.Dir(path))

	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
