package shard

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/schema"
)

func setupAccessor(t *testing.T) (*Accessor, *docstore.Memory, *bytes.Buffer) {
	t.Helper()
	mem := docstore.NewMemory()
	var buf bytes.Buffer
	return New(mem, log.New(&buf, "", 0)), mem, &buf
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, mem, _ := setupAccessor(t)
	folder, _ := mem.CreateOrGetFolder(ctx, "e1", docstore.Root)

	tasks := []schema.ShardTask{
		{ID: "t1", ClientID: "c", EntityName: "Shibuya", Title: "A", Status: schema.StatusOpen, Date: "2024-01-10",
			CreatedAt: "2024-01-09T10:00:00", UpdatedAt: "2024-01-09T10:00:00"},
		{ID: "t2", ClientID: "c", EntityName: "Shibuya", Title: "<b>B</b>", Status: schema.StatusDone},
	}
	if err := Save(ctx, a, tasks, folder, schema.TasksFile); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load[schema.ShardTask](ctx, a, folder, schema.TasksFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(tasks, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Absent(t *testing.T) {
	a, _, logs := setupAccessor(t)
	got, err := Load[schema.PdcaCycle](context.Background(), a, docstore.Root, schema.CyclesFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", got)
	}
	if logs.Len() != 0 {
		t.Errorf("absent shard should not log, got %q", logs.String())
	}
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"truncated", `[{"id":"t1"`},
		{"object instead of list", `{"id":"t1"}`},
		{"entry without id", `[{"title":"x"}]`},
		{"wrong field type", `[{"id":"t1","title":42}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			a, mem, logs := setupAccessor(t)
			_ = mem.WriteFile(ctx, schema.TasksFile, docstore.Root, []byte(tt.raw))

			got, err := Load[schema.ShardTask](ctx, a, docstore.Root, schema.TasksFile)
			if err != nil {
				t.Fatalf("malformed shard must not be an error, got %v", err)
			}
			if len(got) != 0 {
				t.Errorf("expected empty list, got %+v", got)
			}
			if !strings.Contains(logs.String(), "WARNING") {
				t.Errorf("expected a warning, got %q", logs.String())
			}
		})
	}
}

func TestLoad_StoreFailure(t *testing.T) {
	ctx := context.Background()
	a, mem, _ := setupAccessor(t)
	mem.InjectFault(func(op docstore.Op, folder docstore.FolderRef, name string) error {
		return errors.New("backend unavailable")
	})

	if _, err := Load[schema.ShardTask](ctx, a, docstore.Root, schema.TasksFile); !errors.Is(err, docstore.ErrStoreFailure) {
		t.Errorf("expected store failure, got %v", err)
	}
	if err := Save(ctx, a, []schema.ShardTask{}, docstore.Root, schema.TasksFile); !errors.Is(err, docstore.ErrStoreFailure) {
		t.Errorf("expected store failure from Save, got %v", err)
	}
}

func TestSave_NilWritesEmptyList(t *testing.T) {
	ctx := context.Background()
	a, mem, _ := setupAccessor(t)
	if err := Save[schema.PdcaCycle](ctx, a, nil, docstore.Root, schema.CyclesFile); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	raw, _ := mem.ReadFile(ctx, schema.CyclesFile, docstore.Root)
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Errorf("expected [], got %q", raw)
	}
}
