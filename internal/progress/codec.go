package progress

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

// Trailing columns appended to the input columns in every file the store writes.
const (
	ColumnIndex      = "row_index"
	ColumnLatitude   = "latitude"
	ColumnLongitude  = "longitude"
	ColumnStatus     = "status"
	ColumnResolvedAt = "resolved_at"
)

// TimeLayout is the format of the resolved_at column, in local time.
const TimeLayout = "2006-01-02 15:04:05"

// legacyColumns maps the headers written by earlier tooling to the current names.
var legacyColumns = map[string]string{
	"위도":   ColumnLatitude,
	"경도":   ColumnLongitude,
	"처리상태": ColumnStatus,
	"처리일시": ColumnResolvedAt,
}

var resultColumns = []string{ColumnLatitude, ColumnLongitude, ColumnStatus, ColumnResolvedAt}

// Layout names the input columns that carry the addresses.
type Layout struct {
	RoadColumn   string
	ParcelColumn string
}

func header(columns []string, indexed bool) []string {
	out := make([]string, 0, len(columns)+len(resultColumns)+1)
	if indexed {
		out = append(out, ColumnIndex)
	}
	out = append(out, columns...)

	return append(out, resultColumns...)
}

func encodeRow(row models.Row, width int, indexed bool) []string {
	out := make([]string, 0, width+len(resultColumns)+1)
	if indexed {
		out = append(out, strconv.Itoa(row.Index))
	}
	out = append(out, row.Source...)
	for i := len(row.Source); i < width; i++ {
		out = append(out, "")
	}

	lat, lon := "", ""
	if row.Coordinates != nil {
		lat = strconv.FormatFloat(row.Coordinates.Latitude, 'f', -1, 64)
		lon = strconv.FormatFloat(row.Coordinates.Longitude, 'f', -1, 64)
	}
	resolvedAt := ""
	if !row.ResolvedAt.IsZero() {
		resolvedAt = row.ResolvedAt.In(time.Local).Format(TimeLayout)
	}

	return append(out, lat, lon, string(row.Status), resolvedAt)
}

// writeTable writes rows as UTF-8 CSV with a byte order mark.
func writeTable(w io.Writer, columns []string, rows []models.Row, indexed bool) error {
	encoded := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	writer := csv.NewWriter(encoded)

	if err := writer.Write(header(columns, indexed)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(encodeRow(row, len(columns), indexed)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row.Index, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return encoded.Close()
}

// tableLayout records where each field lives in a decoded header.
type tableLayout struct {
	columns []string // original input columns, in file order
	source  []int    // positions of the original columns
	result  map[string]int
	index   int
	road    int // position within columns
	parcel  int // position within columns, -1 if absent
}

func newCSVReader(r io.Reader) *csv.Reader {
	return csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
}

func parseHeader(record []string, layout Layout, indexed bool) (*tableLayout, error) {
	tl := &tableLayout{result: make(map[string]int), index: -1}

	for pos, name := range record {
		canonical := name
		if renamed, ok := legacyColumns[name]; ok {
			canonical = renamed
		}

		switch {
		case slices.Contains(resultColumns, canonical):
			tl.result[canonical] = pos
		case indexed && canonical == ColumnIndex:
			tl.index = pos
		default:
			tl.columns = append(tl.columns, name)
			tl.source = append(tl.source, pos)
		}
	}

	for _, name := range resultColumns {
		if _, ok := tl.result[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	if indexed && tl.index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnIndex)
	}

	tl.road = slices.Index(tl.columns, layout.RoadColumn)
	tl.parcel = slices.Index(tl.columns, layout.ParcelColumn)
	if tl.road < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, layout.RoadColumn)
	}

	return tl, nil
}

// readTable decodes a file written by writeTable, or by the earlier tooling.
// Rows breaking the success-iff-coordinates rule are repaired and counted.
func readTable(r io.Reader, layout Layout, indexed bool) (*Snapshot, error) {
	reader := newCSVReader(r)

	record, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	tl, err := parseHeader(record, layout, indexed)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Columns: tl.columns}
	for line := 0; ; line++ {
		record, err = reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}

		row, repaired, err := tl.decode(record, line)
		if err != nil {
			return nil, err
		}
		if repaired {
			snap.Inconsistent++
		}
		snap.Rows = append(snap.Rows, row)
	}

	return snap, nil
}

func (tl *tableLayout) decode(record []string, line int) (models.Row, bool, error) {
	row := models.Row{Index: line, Source: make([]string, len(tl.source))}
	for i, pos := range tl.source {
		row.Source[i] = record[pos]
	}
	row.RoadAddress = row.Source[tl.road]
	if tl.parcel >= 0 {
		row.ParcelAddress = row.Source[tl.parcel]
	}

	if tl.index >= 0 {
		idx, err := strconv.Atoi(record[tl.index])
		if err != nil {
			return row, false, fmt.Errorf("row %d: invalid %s %q: %w", line, ColumnIndex, record[tl.index], err)
		}
		row.Index = idx
	}

	lat, err := parseAxis(record[tl.result[ColumnLatitude]])
	if err != nil {
		return row, false, fmt.Errorf("row %d: invalid latitude: %w", line, err)
	}
	lon, err := parseAxis(record[tl.result[ColumnLongitude]])
	if err != nil {
		return row, false, fmt.Errorf("row %d: invalid longitude: %w", line, err)
	}
	if lat != nil && lon != nil {
		row.Coordinates = &models.Coordinates{Latitude: *lat, Longitude: *lon}
	}

	if raw := record[tl.result[ColumnResolvedAt]]; raw != "" {
		at, err := time.ParseInLocation(TimeLayout, raw, time.Local)
		if err != nil {
			return row, false, fmt.Errorf("row %d: invalid %s: %w", line, ColumnResolvedAt, err)
		}
		row.ResolvedAt = at
	}

	row.Status = models.ParseStatus(record[tl.result[ColumnStatus]])

	switch {
	case row.Status == models.StatusSuccess && row.Coordinates == nil:
		row.Status = models.StatusPending
		return row, true, nil
	case row.Status != models.StatusSuccess && row.Coordinates != nil:
		row.Status = models.StatusSuccess
		return row, true, nil
	}

	return row, false, nil
}

// parseAxis returns nil for a blank or NaN cell.
func parseAxis(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(v) {
		return nil, nil // spreadsheet exports write NaN for missing values
	}

	return &v, nil
}
