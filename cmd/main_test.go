package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Flaque/filet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnknownOlympus/geobatch/internal/models"
	"github.com/UnknownOlympus/geobatch/internal/progress"
	"github.com/UnknownOlympus/geobatch/internal/service"
)

const inputHeader = "충전소명,주소,지번 주소\n"

func inputRows(n int) string {
	var buf bytes.Buffer
	buf.WriteString(inputHeader)
	for i := range n {
		fmt.Fprintf(&buf, "충전소 %d,강원도 삼척시 엑스포로 %d,강원도 삼척시 교동 %d\n", i, i+1, i+1)
	}
	return buf.String()
}

// setupWorkspace writes an input file and a config pointing at it.
func setupWorkspace(t *testing.T, rows int) (string, string) {
	t.Helper()

	dir := filet.TmpDir(t, "")
	input := filepath.Join(dir, "input.csv")
	filet.File(t, input, inputRows(rows))

	configFile := filepath.Join(dir, "geobatch.yaml")
	filet.File(t, configFile, fmt.Sprintf(`
env: test
input:
  path: %s
output:
  dir: %s
`, input, filepath.Join(dir, "output")))

	return dir, configFile
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	recoverDryRun, rebuildReset = false, false
	backupsOrder, backupsDates, journalPath = orderNewest, nil, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())

	return out.String(), err
}

func testStore(dir string) *progress.Store {
	return progress.NewStore(
		filepath.Join(dir, "output"),
		progress.Layout{RoadColumn: "주소", ParcelColumn: "지번 주소"},
		slog.New(slog.DiscardHandler),
	)
}

func TestCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "status", "recover", "export"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	subs := make(map[string]bool)
	for _, c := range recoverCmd.Commands() {
		subs[c.Name()] = true
	}
	assert.Equal(t, map[string]bool{"backups": true, "journal": true, "rebuild": true}, subs)

	limit := runCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "-1", limit.DefValue)
	require.NotNil(t, recoverBackupsCmd.Flags().Lookup("order"))
	require.NotNil(t, recoverCmd.PersistentFlags().Lookup("dry-run"))
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestSetupLogger(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		env     string
		enabled slog.Level
		below   slog.Level
	}{
		{env: envLocal, enabled: slog.LevelDebug, below: slog.LevelDebug - 1},
		{env: envDev, enabled: slog.LevelInfo, below: slog.LevelDebug},
		{env: envProd, enabled: slog.LevelWarn, below: slog.LevelInfo},
		{env: "unknown", enabled: slog.LevelError, below: slog.LevelWarn},
	}

	for _, tc := range testCases {
		t.Run(tc.env, func(t *testing.T) {
			log := setupLogger(tc.env)
			require.NotNil(t, log)
			assert.True(t, log.Enabled(ctx, tc.enabled))
			assert.False(t, log.Enabled(ctx, tc.below))
		})
	}
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	report := &service.Report{
		RunID:         "run-1",
		Outcome:       service.OutcomeQuotaExhausted,
		Stats:         progress.Stats{Total: 150, Success: 98, Failed: 2, Pending: 50},
		Processed:     100,
		Requests:      140,
		UsedToday:     100,
		DaysRemaining: 1,
		Elapsed:       90 * time.Second,
		DailyBackup:   "output/daily_20251020.csv",
	}

	printReport(&out, report)

	text := out.String()
	assert.Contains(t, text, "Run run-1 finished: quota_exhausted")
	assert.Contains(t, text, "success:        98")
	assert.Contains(t, text, "pending:        50")
	assert.Contains(t, text, "requests:       140 (used today 100)")
	assert.Contains(t, text, "daily backup:   output/daily_20251020.csv")
	assert.NotContains(t, text, "final output")

	out.Reset()
	printReport(&out, nil)
	assert.Empty(t, out.String())
}

func TestPrintStatus(t *testing.T) {
	snap := &progress.Snapshot{Inconsistent: 1}
	for i := range 4 {
		row := models.Row{Index: i, Status: models.StatusPending}
		if i == 0 {
			row = row.WithResult(&models.Coordinates{Latitude: 37.4, Longitude: 129.1}, models.StatusSuccess, time.Now())
		}
		snap.Rows = append(snap.Rows, row)
	}

	var out bytes.Buffer
	require.NoError(t, printStatus(&out, snap, 1, 2))

	text := out.String()
	assert.Contains(t, text, "25.0%")
	assert.Contains(t, text, "75.0%")
	assert.Contains(t, text, "repaired on load")
	assert.Regexp(t, `days remaining\s+2`, text)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestPrintStatusWriteError(t *testing.T) {
	snap := &progress.Snapshot{Rows: []models.Row{{Status: models.StatusPending}}}

	err := printStatus(failingWriter{}, snap, 0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStatusCommand(t *testing.T) {
	defer filet.CleanUp(t)

	t.Run("no snapshot", func(t *testing.T) {
		_, configFile := setupWorkspace(t, 2)

		out, err := execute(t, "status", "--config", configFile)

		require.NoError(t, err)
		assert.Contains(t, out, "No progress snapshot")
	})

	t.Run("with snapshot", func(t *testing.T) {
		dir, configFile := setupWorkspace(t, 3)
		store := testStore(dir)
		snap, err := progress.FromInput(filepath.Join(dir, "input.csv"), progress.Layout{RoadColumn: "주소", ParcelColumn: "지번 주소"})
		require.NoError(t, err)
		snap.Set(0, snap.Rows[0].WithResult(
			&models.Coordinates{Latitude: 37.44, Longitude: 129.16}, models.StatusSuccess, time.Now()))
		require.NoError(t, store.Save(snap))

		out, err := execute(t, "status", "--config", configFile)

		require.NoError(t, err)
		assert.Regexp(t, `total\s+3`, out)
		assert.Regexp(t, `success\s+1\s+33.3%`, out)
		assert.Contains(t, out, "progress.csv")
	})
}

func TestRecoverRebuild(t *testing.T) {
	defer filet.CleanUp(t)

	dir, configFile := setupWorkspace(t, 2)
	input := filepath.Join(dir, "input.csv")
	layout := progress.Layout{RoadColumn: "주소", ParcelColumn: "지번 주소"}
	store := testStore(dir)

	snap, err := progress.FromInput(input, layout)
	require.NoError(t, err)
	snap.Set(0, snap.Rows[0].WithResult(nil, models.StatusFailed, time.Now()))
	snap.Set(1, snap.Rows[1].WithResult(
		&models.Coordinates{Latitude: 37.44, Longitude: 129.16}, models.StatusSuccess, time.Now()))
	require.NoError(t, store.Save(snap))

	// The input grows by one row after the snapshot was written.
	require.NoError(t, os.WriteFile(input, []byte(inputRows(3)), 0o600))

	t.Run("dry run keeps the snapshot", func(t *testing.T) {
		out, err := execute(t, "recover", "rebuild", "--dry-run", "--config", configFile)

		require.NoError(t, err)
		assert.Contains(t, out, "Recovered 2 rows")
		assert.Contains(t, out, "Dry run")

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Len(t, loaded.Rows, 2)
	})

	t.Run("merges into the new input", func(t *testing.T) {
		_, err := execute(t, "recover", "rebuild", "--config", configFile)
		require.NoError(t, err)

		loaded, err := store.Load()
		require.NoError(t, err)
		require.Len(t, loaded.Rows, 3)
		assert.Equal(t, models.StatusFailed, loaded.Rows[0].Status, "failed rows stay failed")
		assert.Equal(t, models.StatusSuccess, loaded.Rows[1].Status)
		require.NotNil(t, loaded.Rows[1].Coordinates)
		assert.InDelta(t, 129.16, loaded.Rows[1].Coordinates.Longitude, 1e-9)
		assert.Equal(t, models.StatusPending, loaded.Rows[2].Status)
	})

	t.Run("reset archives the snapshot", func(t *testing.T) {
		out, err := execute(t, "recover", "rebuild", "--reset", "--config", configFile)
		require.NoError(t, err)
		assert.Contains(t, out, "Snapshot reset to 3 pending rows")

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, 3, loaded.Stats().Pending)

		archived, err := filepath.Glob(filepath.Join(dir, "output", "progress_old_*.csv"))
		require.NoError(t, err)
		assert.Len(t, archived, 1)
	})
}

func TestRecoverBackupsWithoutFiles(t *testing.T) {
	defer filet.CleanUp(t)
	_, configFile := setupWorkspace(t, 2)

	out, err := execute(t, "recover", "backups", "--config", configFile)
	require.NoError(t, err)
	assert.Contains(t, out, "No daily backups found.")

	_, err = execute(t, "recover", "backups", "--order", "sideways", "--config", configFile)
	require.Error(t, err)
}
