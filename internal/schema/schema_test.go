package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func validTask() Task {
	return Task{
		ID:         "task-1",
		ClientID:   "client-a",
		EntityID:   "client-a-1102",
		EntityName: "渋谷店",
		Title:      "Review opening checklist",
		Status:     StatusOpen,
		Date:       "2024-01-10",
		CreatedAt:  "2024-01-09T10:00:00Z",
		UpdatedAt:  "2024-01-09T10:00:00Z",
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
		field   string
	}{
		{name: "valid task", mutate: func(*Task) {}},
		{name: "no date", mutate: func(t *Task) { t.Date = "" }},
		{name: "missing id", mutate: func(t *Task) { t.ID = " " }, wantErr: true, field: "id"},
		{name: "missing title", mutate: func(t *Task) { t.Title = "" }, wantErr: true, field: "title"},
		{
			name:    "title too long",
			mutate:  func(t *Task) { t.Title = strings.Repeat("あ", MaxTitleLength+1) },
			wantErr: true,
			field:   "title",
		},
		{
			name:   "title at limit counts characters",
			mutate: func(t *Task) { t.Title = strings.Repeat("あ", MaxTitleLength) },
		},
		{name: "invalid status", mutate: func(t *Task) { t.Status = "closed" }, wantErr: true, field: "status"},
		{name: "invalid date", mutate: func(t *Task) { t.Date = "2024/01/10" }, wantErr: true, field: "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := validTask()
			tt.mutate(&task)
			err := task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected field %q, got %v", tt.field, err)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus(" Doing ")
	if err != nil || got != StatusDoing {
		t.Errorf("ParseStatus = %q, %v", got, err)
	}
	if _, err := ParseStatus("blocked"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestTaskAdapters(t *testing.T) {
	task := validTask()

	if diff := cmp.Diff(task, task.ToShard().ToTask()); diff != "" {
		t.Errorf("shard round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(task, task.ToMasterIssue().ToTask()); diff != "" {
		t.Errorf("master issue round trip mismatch (-want +got):\n%s", diff)
	}

	data, err := json.Marshal(task.ToShard())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"id", "client_id", "entity_name", "title", "status", "date", "created_at", "updated_at"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("shard encoding is missing %q", key)
		}
	}
}

func TestPdcaIssue_Enrich(t *testing.T) {
	issue := PdcaIssue{ID: "X", ClientID: "c", EntityID: "e", Title: "t", Status: StatusOpen, CreatedAt: "2024-01-01T00:00:00"}
	got := issue.Enrich("Shibuya", "2024-01-10")
	want := MasterIssue{ID: "X", ClientID: "c", EntityID: "e", Title: "t", Status: StatusOpen,
		CreatedAt: "2024-01-01T00:00:00", EntityName: "Shibuya", Date: "2024-01-10"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Enrich mismatch (-want +got):\n%s", diff)
	}
}

func TestPdcaCycle_Validate(t *testing.T) {
	base := PdcaCycle{ID: "cy-1", EntityID: "e", CycleDate: "2024-02-01", Status: StatusOpen}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid cycle, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*PdcaCycle)
	}{
		{"missing id", func(c *PdcaCycle) { c.ID = "" }},
		{"no owner", func(c *PdcaCycle) { c.EntityID = "" }},
		{"bad date", func(c *PdcaCycle) { c.CycleDate = "Feb 1" }},
		{"bad status", func(c *PdcaCycle) { c.Status = "" }},
		{"long text", func(c *PdcaCycle) { c.Action = strings.Repeat("x", MaxCycleTextLength+1) }},
	}
	for _, tt := range tests {
		c := base
		tt.mutate(&c)
		if err := c.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tt.name, err)
		}
	}
}

func TestClient_FolderRef(t *testing.T) {
	if got := (Client{LegacyFolderRef: "legacy"}).FolderRef(); got != "legacy" {
		t.Errorf("expected legacy ref, got %q", got)
	}
	if got := (Client{StorageFolderRef: "new", LegacyFolderRef: "legacy"}).FolderRef(); got != "new" {
		t.Errorf("expected current ref, got %q", got)
	}
}

func TestDatePortion(t *testing.T) {
	tests := map[string]string{
		"2024-01-10T09:30:00":        "2024-01-10",
		"2024-01-10T09:30:00.123456": "2024-01-10",
		"2024-01-10":                 "2024-01-10",
		"2024-13-10T00:00:00":        "",
		"yesterday":                  "",
		"":                           "",
	}
	for in, want := range tests {
		if got := DatePortion(in); got != want {
			t.Errorf("DatePortion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		file    string
		raw     string
		wantErr bool
	}{
		{TasksFile, `[{"id":"t1","title":"x"}]`, false},
		{TasksFile, `[]`, false},
		{TasksFile, `[{"title":"no id"}]`, true},
		{TasksFile, `{"id":"t1"}`, true},
		{EntitiesFile, `[{"id":""}]`, true},
		{MasterDataFile, `{"version":"1.0","updated_at":"x","issues":[{"id":"i"}],"cycles":[]}`, false},
		{MasterDataFile, `{"version":"1.0","issues":[{"title":"t"}],"cycles":[]}`, true},
		{UnifiedDataFile, `{"source_file":"a.xlsx","total_records":1,"columns":["_sheet","_row"],"data":[{"_sheet":"S","_row":2}]}`, false},
		{UnifiedDataFile, `{"source_file":"a.xlsx","total_records":1,"columns":[],"data":[{"a":1}]}`, true},
		{"notes.json", `{"anything":true}`, false},
		{TasksFile, `[{"id":`, true},
	}
	for _, tt := range tests {
		err := ValidateDocument(tt.file, []byte(tt.raw))
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateDocument(%s, %s) error = %v, wantErr %v", tt.file, tt.raw, err, tt.wantErr)
		}
	}
}

func TestClientAndEntity_Validate(t *testing.T) {
	if err := (&Client{ID: "client-a", Name: "A"}).Validate(); err != nil {
		t.Errorf("expected valid client, got %v", err)
	}
	for _, c := range []Client{{Name: "A"}, {ID: "a/b", Name: "A"}, {ID: "..", Name: "A"}, {ID: "a"}} {
		if err := c.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("Validate(%+v): expected ErrValidation, got %v", c, err)
		}
	}

	if err := (&Entity{ID: "client-a-1102", Name: "渋谷店"}).Validate(); err != nil {
		t.Errorf("expected valid entity, got %v", err)
	}
	if err := (&Entity{ID: "e", Name: "n", SortOrder: -1}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for negative sort order, got %v", err)
	}
}

func TestExtraMembersSurviveRewrite(t *testing.T) {
	raw := []byte(`{"id":"t1","client_id":"c","title":"Tea & cake","status":"open",` +
		`"priority":"high","assignee":{"name":"abe"},"estimate":3}`)

	var st ShardTask
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if st.Title != "Tea & cake" || st.Status != StatusOpen {
		t.Errorf("declared fields not decoded: %+v", st)
	}
	if len(st.Extra) != 3 {
		t.Fatalf("expected 3 extra members, got %v", st.Extra)
	}

	task := st.ToTask()
	task.Status = StatusDone
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(task.ToShard()); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"Tea & cake"`) {
		t.Errorf("title was escaped: %s", buf.String())
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(buf.String()), &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	want := map[string]any{
		"priority": "high",
		"assignee": map[string]any{"name": "abe"},
		"estimate": float64(3),
		"status":   "done",
		"id":       "t1",
	}
	for k, v := range want {
		if diff := cmp.Diff(v, got[k]); diff != "" {
			t.Errorf("member %q mismatch (-want +got):\n%s", k, diff)
		}
	}
}

func TestExtraMembers_AllDocumentTypes(t *testing.T) {
	roundTrip := func(t *testing.T, v any, raw string) map[string]any {
		t.Helper()
		if err := json.Unmarshal([]byte(raw), v); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		return out
	}

	tests := []struct {
		name string
		v    any
	}{
		{"client", &Client{}},
		{"entity", &Entity{}},
		{"issue", &PdcaIssue{}},
		{"cycle", &PdcaCycle{}},
		{"master issue", &MasterIssue{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := roundTrip(t, tt.v, `{"id":"x","name":"n","owner":"sato","plan":["a","b"]}`)
			if out["id"] != "x" || out["owner"] != "sato" {
				t.Errorf("members lost: %v", out)
			}
			if diff := cmp.Diff([]any{"a", "b"}, out["plan"]); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtraMembers_CaseInsensitiveFieldsAreNotDuplicated(t *testing.T) {
	var c PdcaCycle
	if err := json.Unmarshal([]byte(`{"ID":"cy-1","Cycle_Date":"2024-02-01","memo":"m"}`), &c); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if c.ID != "cy-1" || c.CycleDate != "2024-02-01" {
		t.Errorf("declared fields not decoded: %+v", c)
	}
	if diff := cmp.Diff(Extra{"memo": json.RawMessage(`"m"`)}, c.Extra); diff != "" {
		t.Errorf("extra mismatch (-want +got):\n%s", diff)
	}
}

func TestExtra_With(t *testing.T) {
	base := Extra{"a": json.RawMessage(`1`), "b": json.RawMessage(`2`)}
	got := base.With(Extra{"b": json.RawMessage(`3`)})
	want := Extra{"a": json.RawMessage(`1`), "b": json.RawMessage(`3`)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("With mismatch (-want +got):\n%s", diff)
	}
	if base["b"] == nil || string(base["b"]) != "2" {
		t.Errorf("With modified its receiver: %v", base)
	}
	if Extra(nil).With(nil) != nil {
		t.Errorf("expected nil for two empty sets")
	}
}
