// Package ingest converts spreadsheets into the unified_data.json record set.
//
// Each sheet is a grid of cells (nil, float64, int, string, bool or
// time.Time). Header rows are detected near the top of the grid, flattened
// into one column name per column, and every row below them becomes a
// Record tagged with its sheet and 1-based row number.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/pdcadash/pdca/internal/schema"
)

// ErrIngestion is returned for spreadsheets that cannot be read. No output
// is written when it occurs.
var ErrIngestion = errors.New("ingestion failed")

const (
	// headerScanRows bounds header detection.
	headerScanRows = 5
	// widthScanRows bounds the rows used to measure the column count.
	widthScanRows = 10
)

// Sheet is one named grid of a workbook.
type Sheet struct {
	Name string
	Rows [][]any
}

// Workbook is an ordered list of sheets.
type Workbook []Sheet

type cellKind int

const (
	cellEmpty cellKind = iota
	cellText
	cellNumber
	cellOther
)

func classify(v any) cellKind {
	switch x := v.(type) {
	case nil:
		return cellEmpty
	case string:
		if strings.TrimSpace(x) == "" {
			return cellEmpty
		}
		return cellText
	case float64:
		if math.IsNaN(x) {
			return cellEmpty
		}
		return cellNumber
	case float32, int, int64, int32, uint, uint64, uint32, time.Time:
		return cellNumber
	default:
		return cellOther
	}
}

// FindHeaderRows returns the indexes of the header rows of grid.
//
// Within the first five rows, text-dominant rows accumulate as header rows.
// They are confirmed when a row that is not text-dominant follows; blank rows
// are ignored. If no header run is confirmed, row 0 is the sole header.
func FindHeaderRows(grid [][]any) []int {
	var headers []int
	for i := 0; i < len(grid) && i < headerScanRows; i++ {
		text, numeric := 0, 0
		for _, v := range grid[i] {
			switch classify(v) {
			case cellText:
				text++
			case cellNumber:
				numeric++
			}
		}
		if text == 0 && numeric == 0 {
			continue
		}
		if text > numeric {
			headers = append(headers, i)
			continue
		}
		if len(headers) > 0 {
			return headers
		}
	}
	return []int{0}
}

// BuildHeader returns one column name per column. Parts from each header row
// are NFKC-normalized, de-duplicated and joined with "_". A column without
// header text has the name "".
//
// Repeated names get a numeric suffix ("Sales", "Sales_2") so no column is
// silently dropped from a record.
func BuildHeader(grid [][]any, headerRows []int) []string {
	width := 0
	for i := 0; i < len(grid) && i < widthScanRows; i++ {
		if len(grid[i]) > width {
			width = len(grid[i])
		}
	}

	names := make([]string, width)
	seen := make(map[string]int)
	for col := 0; col < width; col++ {
		var parts []string
		for _, r := range headerRows {
			if r >= len(grid) || col >= len(grid[r]) {
				continue
			}
			part := headerText(grid[r][col])
			if part == "" || contains(parts, part) {
				continue
			}
			parts = append(parts, part)
		}
		name := strings.Join(parts, "_")
		if name == "" {
			continue
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		names[col] = name
	}
	return names
}

func headerText(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		s = x.Format(schema.DateLayout)
	default:
		s = fmt.Sprint(x)
	}
	return strings.TrimSpace(norm.NFKC.String(s))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CleanValue normalizes one cell for output. It returns nil for values that
// should be left out of a record.
func CleanValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		if x == math.Trunc(x) {
			return x
		}
		return math.Round(x*1e4) / 1e4
	case float32:
		return CleanValue(float64(x))
	case time.Time:
		return x.Format(schema.DateLayout)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		return s
	default:
		return x
	}
}

// BuildRecords turns the data rows of one sheet into records.
func BuildRecords(sheet string, grid [][]any) []schema.Record {
	if len(grid) == 0 {
		return nil
	}
	headerRows := FindHeaderRows(grid)
	columns := BuildHeader(grid, headerRows)
	first := headerRows[len(headerRows)-1] + 1

	var records []schema.Record
	for i := first; i < len(grid); i++ {
		row := grid[i]
		if isBlank(row) {
			continue
		}
		rec := schema.Record{
			schema.SheetField: sheet,
			schema.RowField:   i + 1,
		}
		for col, name := range columns {
			if name == "" || col >= len(row) {
				continue
			}
			if v := CleanValue(row[col]); v != nil {
				rec[name] = v
			}
		}
		if len(rec) > 2 {
			records = append(records, rec)
		}
	}
	return records
}

func isBlank(row []any) bool {
	for _, v := range row {
		if classify(v) != cellEmpty {
			return false
		}
	}
	return true
}

// Convert builds the unified record set of a workbook. Columns list the
// provenance fields first and the rest in alphabetical order.
func Convert(wb Workbook, sourceFile string, now time.Time) schema.UnifiedData {
	data := []schema.Record{}
	fields := make(map[string]struct{})
	for _, sheet := range wb {
		for _, rec := range BuildRecords(sheet.Name, sheet.Rows) {
			for k := range rec {
				fields[k] = struct{}{}
			}
			data = append(data, rec)
		}
	}

	delete(fields, schema.SheetField)
	delete(fields, schema.RowField)
	rest := make([]string, 0, len(fields))
	for k := range fields {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	columns := append([]string{schema.SheetField, schema.RowField}, rest...)

	return schema.UnifiedData{
		SourceFile:   sourceFile,
		ConvertedAt:  schema.Stamp(now),
		TotalRecords: len(data),
		TotalColumns: len(columns),
		Columns:      columns,
		Data:         data,
	}
}
