package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/schema"
)

// ReadWorkbook parses spreadsheet bytes. Files named *.csv are read as a
// single sheet named after the file; everything else must be an xlsx
// workbook. Any parse failure is ErrIngestion.
func ReadWorkbook(name string, data []byte) (Workbook, error) {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		rows, err := readCSV(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrIngestion, name, err)
		}
		return Workbook{{Name: strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)), Rows: rows}}, nil
	}
	wb, err := readXLSX(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIngestion, name, err)
	}
	return wb, nil
}

// readCSV accepts UTF-8 (with or without BOM) and Shift_JIS input. Cells
// that parse as numbers become float64.
func readCSV(data []byte) ([][]any, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var r io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		r = transform.NewReader(r, japanese.ShiftJIS.NewDecoder())
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	grid := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(rec))
		for j, cell := range rec {
			row[j] = parseCell(cell)
		}
		grid[i] = row
	}
	return grid, nil
}

func parseCell(s string) any {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64); err == nil && looksNumeric(t) {
		return f
	}
	return s
}

// looksNumeric rejects strings ParseFloat accepts but a spreadsheet would
// not treat as numbers, such as "NaN", "Inf" or hex literals.
func looksNumeric(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789.,+-eE", r) {
			return false
		}
	}
	return true
}

func readXLSX(data []byte) (Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var wb Workbook
	for _, name := range f.GetSheetList() {
		rows, err := readSheet(f, name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		wb = append(wb, Sheet{Name: name, Rows: rows})
	}
	return wb, nil
}

// readSheet reads raw cell values and converts them by cell type. Numbers
// formatted as dates become time.Time.
func readSheet(f *excelize.File, sheet string) ([][]any, error) {
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	dates := make(map[int]bool)

	grid := make([][]any, len(raw))
	for i, cols := range raw {
		row := make([]any, len(cols))
		for j, v := range cols {
			if strings.TrimSpace(v) == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			typ, err := f.GetCellType(sheet, cell)
			if err != nil {
				return nil, err
			}
			switch typ {
			case excelize.CellTypeSharedString, excelize.CellTypeInlineString:
				row[j] = v
			case excelize.CellTypeBool:
				row[j] = v == "1" || strings.EqualFold(v, "true")
			case excelize.CellTypeDate:
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					row[j] = t
				} else {
					row[j] = v
				}
			default:
				n, err := strconv.ParseFloat(v, 64)
				if err != nil {
					row[j] = v
					continue
				}
				isDate, err := dateStyled(f, sheet, cell, dates)
				if err != nil {
					return nil, err
				}
				if isDate {
					if t, err := excelize.ExcelDateToTime(n, false); err == nil {
						row[j] = t
						continue
					}
				}
				row[j] = n
			}
		}
		grid[i] = row
	}
	return grid, nil
}

// Built-in number formats that render dates.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true,
	20: true, 21: true, 22: true, 45: true, 46: true, 47: true,
}

func dateStyled(f *excelize.File, sheet, cell string, cache map[int]bool) (bool, error) {
	idx, err := f.GetCellStyle(sheet, cell)
	if err != nil {
		return false, err
	}
	if v, ok := cache[idx]; ok {
		return v, nil
	}
	style, err := f.GetStyle(idx)
	if err != nil {
		return false, err
	}
	isDate := builtinDateFormats[style.NumFmt]
	if style.CustomNumFmt != nil {
		isDate = customDateFormat(*style.CustomNumFmt)
	}
	cache[idx] = isDate
	return isDate, nil
}

// customDateFormat reports whether a custom number format shows a date.
// Quoted literals and bracketed sections are ignored.
func customDateFormat(format string) bool {
	var b strings.Builder
	quoted, bracket := false, false
	for _, r := range strings.ToLower(format) {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '[':
			bracket = true
		case r == ']':
			bracket = false
		case bracket:
		default:
			b.WriteRune(r)
		}
	}
	f := b.String()
	return strings.ContainsAny(f, "dy") || (strings.Contains(f, "m") && !strings.Contains(f, "0"))
}

// Ingest converts data and writes the result as unified_data.json in
// clientFolder. Nothing is written when the spreadsheet cannot be read.
func Ingest(ctx context.Context, store docstore.Store, clientFolder docstore.FolderRef, name string, data []byte) (schema.UnifiedData, error) {
	wb, err := ReadWorkbook(name, data)
	if err != nil {
		return schema.UnifiedData{}, err
	}
	out := Convert(wb, filepath.Base(name), time.Now())
	if err := docstore.WriteJSON(ctx, store, out, schema.UnifiedDataFile, clientFolder); err != nil {
		return schema.UnifiedData{}, fmt.Errorf("failed to write %s: %w", schema.UnifiedDataFile, err)
	}
	return out, nil
}
