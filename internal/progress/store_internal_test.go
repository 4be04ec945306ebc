package progress

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/UnknownOlympus/geobatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_CrashBeforeRenameKeepsLiveSnapshot(t *testing.T) {
	dir := t.TempDir()
	layout := Layout{RoadColumn: "주소", ParcelColumn: "지번 주소"}
	store := NewStore(dir, layout, slog.New(slog.NewTextHandler(io.Discard, nil)))

	snap := &Snapshot{Columns: []string{"주소", "지번 주소"}}
	for i := range 3 {
		snap.Rows = append(snap.Rows, models.Row{
			Index:       i,
			Source:      []string{"강원도 삼척시 엑스포로 1", ""},
			RoadAddress: "강원도 삼척시 엑스포로 1",
			Status:      models.StatusPending,
		})
	}
	require.NoError(t, store.Save(snap))

	next := snap.Clone()
	next.Set(0, next.Rows[0].WithResult(&models.Coordinates{Latitude: 37.4, Longitude: 129.1},
		models.StatusSuccess, time.Now()))

	crash := errors.New("power lost")
	store.beforeReplace = func() error { return crash }

	err := store.Save(next)
	require.ErrorIs(t, err, crash)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, loaded.Rows[0].Status)
	assert.Nil(t, loaded.Rows[0].Coordinates)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.Contains(entry.Name(), ".tmp-"), "temporary file %s left behind", entry.Name())
	}
	assert.FileExists(t, filepath.Join(dir, progressBackup))

	store.beforeReplace = nil
	require.NoError(t, store.Save(next))

	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, loaded.Rows[0].Status)
}

func TestCopyAside_UsesTimestamp(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, Layout{RoadColumn: "주소", ParcelColumn: "지번 주소"}, slog.Default())
	store.now = func() time.Time { return time.Date(2025, 10, 21, 9, 5, 7, 0, time.Local) }

	require.NoError(t, os.WriteFile(store.Path(), []byte("old"), 0o600))

	path, err := store.Archive()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "progress_old_20251021_090507.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}
