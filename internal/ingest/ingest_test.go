package ingest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/japanese"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/schema"
)

func TestFindHeaderRows(t *testing.T) {
	tests := []struct {
		name string
		grid [][]any
		want []int
	}{
		{
			name: "single text header, text data",
			grid: [][]any{{"Name", "Region"}, {"Sato", "Tokyo"}, {"Abe", "Osaka"}},
			want: []int{0},
		},
		{
			name: "two header rows",
			grid: [][]any{{"Sales", "Sales"}, {"Q1", "Q2"}, {100.0, 200.0}},
			want: []int{0, 1},
		},
		{
			name: "blank row between headers is ignored",
			grid: [][]any{{"Store", "Sales"}, {nil, ""}, {nil, "yen"}, {"Shibuya", 1200.0, 3.0}},
			want: []int{0, 2},
		},
		{
			name: "numeric rows before the header are skipped",
			grid: [][]any{{2024.0}, {"Item", "Value"}, {"a", 1.0, 2.0}},
			want: []int{1},
		},
		{
			name: "no data row within scan window",
			grid: [][]any{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}, {1.0}},
			want: []int{0},
		},
		{
			name: "empty grid",
			grid: nil,
			want: []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FindHeaderRows(tt.grid)); diff != "" {
				t.Errorf("FindHeaderRows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildHeader(t *testing.T) {
	tests := []struct {
		name    string
		grid    [][]any
		headers []int
		want    []string
	}{
		{
			name:    "flattened and de-duplicated",
			grid:    [][]any{{"Sales", "Sales"}, {"Q1", "Q2"}, {100.0, 200.0}},
			headers: []int{0, 1},
			want:    []string{"Sales_Q1", "Sales_Q2"},
		},
		{
			name:    "identical parts collapse",
			grid:    [][]any{{"Total"}, {"Total"}, {1.0}},
			headers: []int{0, 1},
			want:    []string{"Total"},
		},
		{
			name:    "unnamed column",
			grid:    [][]any{{"A", nil, "C"}, {1.0, 2.0, 3.0}},
			headers: []int{0},
			want:    []string{"A", "", "C"},
		},
		{
			name:    "width from widest row",
			grid:    [][]any{{"A"}, {1.0, 2.0}},
			headers: []int{0},
			want:    []string{"A", ""},
		},
		{
			name:    "full-width text is normalized",
			grid:    [][]any{{"売上（円）", "ＡＢＣ"}, {1.0, 2.0}},
			headers: []int{0},
			want:    []string{"売上(円)", "ABC"},
		},
		{
			name:    "repeated names are suffixed",
			grid:    [][]any{{"Sales", "Sales"}, {1.0, 2.0}},
			headers: []int{0},
			want:    []string{"Sales", "Sales_2"},
		},
		{
			name:    "numeric header parts",
			grid:    [][]any{{"FY", "FY"}, {2024.0, 2025.0}, {1.0, 2.0}},
			headers: []int{0, 1},
			want:    []string{"FY_2024", "FY_2025"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, BuildHeader(tt.grid, tt.headers)); diff != "" {
				t.Errorf("BuildHeader mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCleanValue(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{math.NaN(), nil},
		{3.14159, 3.1416},
		{100.0, 100.0},
		{0.00004, 0.0},
		{42, 42},
		{"", nil},
		{"   ", nil},
		{"  Tokyo ", "Tokyo"},
		{time.Date(2024, 3, 5, 13, 45, 0, 0, time.UTC), "2024-03-05"},
		{true, true},
	}

	for _, tt := range tests {
		if got := CleanValue(tt.in); got != tt.want {
			t.Errorf("CleanValue(%v) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}

func TestBuildRecords(t *testing.T) {
	grid := [][]any{
		{"Name", "Region"},
		{"Sato", "Tokyo"},
		{nil, nil},
		{"Abe", "Osaka"},
	}
	want := []schema.Record{
		{"_sheet": "Stores", "_row": 2, "Name": "Sato", "Region": "Tokyo"},
		{"_sheet": "Stores", "_row": 4, "Name": "Abe", "Region": "Osaka"},
	}
	if diff := cmp.Diff(want, BuildRecords("Stores", grid)); diff != "" {
		t.Errorf("BuildRecords mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRecords_DropsEmptyRecords(t *testing.T) {
	grid := [][]any{
		{"Sales", "Sales", nil},
		{"Q1", "Q2", nil},
		{100.0, 200.5, nil},
		{"", "  ", "orphan"},
	}
	got := BuildRecords("PL", grid)
	want := []schema.Record{
		{"_sheet": "PL", "_row": 3, "Sales_Q1": 100.0, "Sales_Q2": 200.5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildRecords mismatch (-want +got):\n%s", diff)
	}
}

func TestConvert(t *testing.T) {
	wb := Workbook{
		{Name: "A", Rows: [][]any{{"Zeta", "Alpha"}, {1.0, 2.0}}},
		{Name: "B", Rows: [][]any{{"Mid"}, {"x"}, {"y"}}},
	}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	got := Convert(wb, "book.xlsx", now)

	if got.TotalRecords != 3 {
		t.Errorf("expected 3 records, got %d", got.TotalRecords)
	}
	wantCols := []string{"_sheet", "_row", "Alpha", "Mid", "Zeta"}
	if diff := cmp.Diff(wantCols, got.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if got.TotalColumns != len(wantCols) {
		t.Errorf("expected %d columns, got %d", len(wantCols), got.TotalColumns)
	}
	if got.SourceFile != "book.xlsx" || got.ConvertedAt != schema.Stamp(now) {
		t.Errorf("unexpected metadata: %q %q", got.SourceFile, got.ConvertedAt)
	}
}

func TestConvert_EmptyWorkbook(t *testing.T) {
	got := Convert(nil, "empty.csv", time.Now())
	if got.Data == nil || len(got.Data) != 0 {
		t.Errorf("expected empty non-nil data, got %#v", got.Data)
	}
	if diff := cmp.Diff([]string{"_sheet", "_row"}, got.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func buildXLSX(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Sales"); err != nil {
		t.Fatalf("SetSheetName failed: %v", err)
	}
	rows := [][]any{
		{"Store", "Sales", "Date"},
		{"Shibuya", 1234.56789, nil},
		{"Osaka", 99, nil},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sales", cell, &row); err != nil {
			t.Fatalf("SetSheetRow failed: %v", err)
		}
	}

	style, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	if err != nil {
		t.Fatalf("NewStyle failed: %v", err)
	}
	for _, cell := range []string{"C2", "C3"} {
		if err := f.SetCellValue("Sales", cell, 45356.0); err != nil { // 2024-03-05
			t.Fatalf("SetCellValue failed: %v", err)
		}
		if err := f.SetCellStyle("Sales", cell, cell, style); err != nil {
			t.Fatalf("SetCellStyle failed: %v", err)
		}
	}

	if _, err := f.NewSheet("Notes"); err != nil {
		t.Fatalf("NewSheet failed: %v", err)
	}
	_ = f.SetSheetRow("Notes", "A1", &[]any{"Memo"})
	_ = f.SetSheetRow("Notes", "A2", &[]any{"  check stock  "})

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer failed: %v", err)
	}
	return buf.Bytes()
}

func TestReadWorkbook_XLSX(t *testing.T) {
	wb, err := ReadWorkbook("report.xlsx", buildXLSX(t))
	if err != nil {
		t.Fatalf("ReadWorkbook failed: %v", err)
	}
	got := Convert(wb, "report.xlsx", time.Now())

	want := []schema.Record{
		{"_sheet": "Sales", "_row": 2, "Store": "Shibuya", "Sales": 1234.5679, "Date": "2024-03-05"},
		{"_sheet": "Sales", "_row": 3, "Store": "Osaka", "Sales": 99.0, "Date": "2024-03-05"},
		{"_sheet": "Notes", "_row": 2, "Memo": "check stock"},
	}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReadWorkbook_CSV(t *testing.T) {
	sjis, err := japanese.ShiftJIS.NewEncoder().String("店舗,売上\n渋谷,\"1,200\"\n大阪,800.5\n")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"utf-8", []byte("店舗,売上\n渋谷,\"1,200\"\n大阪,800.5\n")},
		{"utf-8 with bom", []byte("\xef\xbb\xbf店舗,売上\n渋谷,\"1,200\"\n大阪,800.5\n")},
		{"shift_jis", []byte(sjis)},
	}

	want := []schema.Record{
		{"_sheet": "pos", "_row": 2, "店舗": "渋谷", "売上": 1200.0},
		{"_sheet": "pos", "_row": 3, "店舗": "大阪", "売上": 800.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb, err := ReadWorkbook("pos.csv", tt.data)
			if err != nil {
				t.Fatalf("ReadWorkbook failed: %v", err)
			}
			if diff := cmp.Diff(want, Convert(wb, "pos.csv", time.Now()).Data); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadWorkbook_Malformed(t *testing.T) {
	if _, err := ReadWorkbook("broken.xlsx", []byte("not a zip")); !errors.Is(err, ErrIngestion) {
		t.Errorf("expected ErrIngestion, got %v", err)
	}
	if _, err := ReadWorkbook("broken.csv", []byte("a,\"b\nc")); !errors.Is(err, ErrIngestion) {
		t.Errorf("expected ErrIngestion for csv, got %v", err)
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	folder, _ := mem.CreateOrGetFolder(ctx, "client-a", docstore.Root)

	out, err := Ingest(ctx, mem, folder, "uploads/report.xlsx", buildXLSX(t))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if out.SourceFile != "report.xlsx" || out.TotalRecords != 3 {
		t.Errorf("unexpected output: %+v", out)
	}

	stored, err := docstore.ReadJSON[schema.UnifiedData](ctx, mem, schema.UnifiedDataFile, folder)
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if stored.TotalRecords != 3 || len(stored.Columns) != out.TotalColumns {
		t.Errorf("unexpected stored document: %+v", stored)
	}
}

func TestIngest_MalformedWritesNothing(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()

	if _, err := Ingest(ctx, mem, docstore.Root, "x.xlsx", []byte{0x00, 0x01}); !errors.Is(err, ErrIngestion) {
		t.Fatalf("expected ErrIngestion, got %v", err)
	}
	if _, err := mem.ReadFile(ctx, schema.UnifiedDataFile, docstore.Root); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected no output document, got %v", err)
	}
}
