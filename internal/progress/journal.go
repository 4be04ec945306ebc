package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

const (
	// JournalFile is the default journal name inside the output directory.
	JournalFile    = "geocoding_journal.jsonl"
	journalMessage = "geocoded"
	maxJournalLine = 1 << 20
)

// legacyLine matches success lines of the plain-text log written by earlier tooling:
// 2025-10-20 13:54:36,576 - INFO - ✅ 성공 [도로명·도로명]: 강원도 삼척시 엑스포로 → (37.435992, 129.146897)
var legacyLine = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})(?:,\d+)? - INFO - ✅ 성공 \[[^\]]*\]: (.+?) → \((-?[0-9.]+), (-?[0-9.]+)\)`,
)

// Journal appends one JSON line per successful resolution.
type Journal struct {
	file *os.File
	log  *slog.Logger
}

// OpenJournal opens, or creates, the journal at path for appending.
func OpenJournal(path, runID string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), outputDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Journal{
		file: file,
		log:  slog.New(slog.NewJSONHandler(file, nil)).With("run_id", runID),
	}, nil
}

// Record appends a resolved row. Rows without coordinates are ignored.
func (j *Journal) Record(ctx context.Context, row models.Row, candidate string, addrType models.AddressType, level string) {
	if row.Coordinates == nil {
		return
	}

	j.log.InfoContext(ctx, journalMessage,
		"row", row.Index,
		"road_address", row.RoadAddress,
		"parcel_address", row.ParcelAddress,
		"candidate", candidate,
		"address_type", addrType,
		"level", level,
		"lat", row.Coordinates.Latitude,
		"lon", row.Coordinates.Longitude,
	)
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	return j.file.Close()
}

// JournalEntry is one successful resolution read back from a journal.
type JournalEntry struct {
	Time          time.Time
	Row           int // Row is -1 when the line carries no input index.
	RoadAddress   string
	ParcelAddress string
	Candidate     string
	AddressType   models.AddressType
	Level         string
	Coordinates   models.Coordinates
}

type journalLine struct {
	Time          time.Time `json:"time"`
	Msg           string    `json:"msg"`
	Row           *int      `json:"row"`
	RoadAddress   string    `json:"road_address"`
	ParcelAddress string    `json:"parcel_address"`
	Candidate     string    `json:"candidate"`
	AddressType   string    `json:"address_type"`
	Level         string    `json:"level"`
	Lat           *float64  `json:"lat"`
	Lon           *float64  `json:"lon"`
}

// ReplayJournal reads every success entry from a journal, accepting both JSON
// lines and the legacy text log format. It returns the entries in file order
// and the number of lines it could not use.
func ReplayJournal(path string) ([]JournalEntry, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var (
		entries []JournalEntry
		skipped int
	)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		entry, ok := parseJournalLine(line)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if err = scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read journal: %w", err)
	}

	return entries, skipped, nil
}

func parseJournalLine(line string) (JournalEntry, bool) {
	if strings.HasPrefix(line, "{") {
		var raw journalLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return JournalEntry{}, false
		}
		if raw.Msg != journalMessage || raw.Lat == nil || raw.Lon == nil {
			return JournalEntry{}, false
		}

		entry := JournalEntry{
			Time:          raw.Time,
			Row:           -1,
			RoadAddress:   raw.RoadAddress,
			ParcelAddress: raw.ParcelAddress,
			Candidate:     raw.Candidate,
			AddressType:   models.AddressType(raw.AddressType),
			Level:         raw.Level,
			Coordinates:   models.Coordinates{Latitude: *raw.Lat, Longitude: *raw.Lon},
		}
		if raw.Row != nil {
			entry.Row = *raw.Row
		}

		return entry, true
	}

	m := legacyLine.FindStringSubmatch(line)
	if m == nil {
		return JournalEntry{}, false
	}

	at, err := time.ParseInLocation(TimeLayout, m[1], time.Local)
	if err != nil {
		return JournalEntry{}, false
	}
	lat, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return JournalEntry{}, false
	}
	lon, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return JournalEntry{}, false
	}

	return JournalEntry{
		Time:        at,
		Row:         -1,
		Candidate:   strings.TrimSpace(m[2]),
		Coordinates: models.Coordinates{Latitude: lat, Longitude: lon},
	}, true
}

// RebuildStats reports how journal entries were matched to rows.
type RebuildStats struct {
	ByIndex   int
	ByAddress int
}

// RebuildFromJournal builds a secondary snapshot holding the rows of fresh that
// a journal entry resolves. An entry carrying an input index applies to that
// row when the row's road address is unchanged; any other entry matches rows
// whose normalized road or parcel address equals the entry's. The latest entry
// for a row or an address wins.
func RebuildFromJournal(
	fresh *Snapshot,
	entries []JournalEntry,
	normalize func(string) string,
) (*Snapshot, RebuildStats) {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b JournalEntry) int {
		return a.Time.Compare(b.Time)
	})

	byIndex := make(map[int]JournalEntry)
	byAddress := make(map[string]JournalEntry)
	for _, entry := range ordered {
		if entry.Row >= 0 && entry.Row < len(fresh.Rows) && fresh.Rows[entry.Row].RoadAddress == entry.RoadAddress {
			byIndex[entry.Row] = entry
			continue
		}

		keys := []string{entry.RoadAddress, entry.ParcelAddress}
		if entry.Row < 0 {
			keys = []string{entry.Candidate}
		}
		for _, key := range keys {
			if normalized := normalize(key); normalized != "" {
				byAddress[normalized] = entry
			}
		}
	}

	out := &Snapshot{Columns: fresh.Columns}
	var stats RebuildStats
	for _, row := range fresh.Rows {
		if entry, ok := byIndex[row.Index]; ok {
			out.Rows = append(out.Rows, row.WithResult(&entry.Coordinates, models.StatusSuccess, entry.Time))
			stats.ByIndex++
			continue
		}

		if entry, ok := lookupAddress(byAddress, normalize, row.RoadAddress, row.ParcelAddress); ok {
			out.Rows = append(out.Rows, row.WithResult(&entry.Coordinates, models.StatusSuccess, entry.Time))
			stats.ByAddress++
		}
	}

	return out, stats
}

func lookupAddress(
	byAddress map[string]JournalEntry,
	normalize func(string) string,
	addresses ...string,
) (JournalEntry, bool) {
	for _, addr := range addresses {
		normalized := normalize(addr)
		if normalized == "" {
			continue
		}
		if entry, ok := byAddress[normalized]; ok {
			return entry, true
		}
	}

	return JournalEntry{}, false
}
