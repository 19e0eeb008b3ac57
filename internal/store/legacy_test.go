package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
)

const legacyJSON = `// exported by the pre-database release
[
  {
    id: "task-1700000000000-abcdefg",
    name: "daily digest",
    trigger_type: "interval",
    trigger_config: { minutes: 30 },
    agent_prompt: "summarize the day",
  },
]
`

func TestImportLegacy_LoadsAndRenames(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(legacyPath, []byte(legacyJSON), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	st, err := Open(filepath.Join(dir, "tasks.db"), WithLegacyImport(legacyPath))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	tasks, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("imported %d tasks, want 1", len(tasks))
	}
	got := tasks[0]
	if got.ID != "task-1700000000000-abcdefg" {
		t.Errorf("id = %q", got.ID)
	}
	if got.Status != task.StatusScheduled {
		t.Errorf("status = %q, want scheduled default", got.Status)
	}
	if !got.Enabled {
		t.Error("enabled = false, want default true")
	}
	if got.TriggerConfig.Minutes != 30 {
		t.Errorf("trigger config = %+v", got.TriggerConfig)
	}
	if len(got.History) != 0 {
		t.Errorf("history = %+v, want empty", got.History)
	}

	if _, err := os.Stat(legacyPath); !os.IsNotExist(err) {
		t.Error("legacy file still present, want it renamed")
	}
	if _, err := os.Stat(legacyPath + ".bak"); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}

func TestImportLegacy_SkipsNonEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tasks.db")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := st.Upsert(context.Background(), sampleTask("task-existing", created)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	st.Close()

	legacyPath := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(legacyPath, []byte(legacyJSON), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	st, err = Open(dbPath, WithLegacyImport(legacyPath))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	n, err := st.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want the pre-existing task only", n)
	}
	if _, err := os.Stat(legacyPath); err != nil {
		t.Errorf("legacy file should be untouched: %v", err)
	}
}

func TestImportLegacy_BadFileDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(legacyPath, []byte("{{{ not json"), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	st, err := Open(filepath.Join(dir, "tasks.db"), WithLegacyImport(legacyPath))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	n, err := st.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	if _, err := os.Stat(legacyPath); err != nil {
		t.Errorf("unparseable file should stay in place: %v", err)
	}
}

func TestImportLegacy_WrappedShapeAndPastDate(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "tasks.json")
	wrapped := `{
  tasks: [
    {
      trigger_type: "date",
      trigger_config: { run_date: "2020-01-01T00:00:00Z" },
      status: "completed",
      enabled: false,
      history: [
        { run_at: "2020-01-01T00:00:00Z", status: "success", message: "done" },
      ],
    },
  ],
}`
	if err := os.WriteFile(legacyPath, []byte(wrapped), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	st, err := Open(filepath.Join(dir, "tasks.db"), WithLegacyImport(legacyPath))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	tasks, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("imported %d tasks, want 1", len(tasks))
	}
	got := tasks[0]
	if got.ID == "" {
		t.Error("missing id should have been generated")
	}
	if got.Status != task.StatusCompleted || got.Enabled {
		t.Errorf("state = %q enabled=%v, want completed disabled", got.Status, got.Enabled)
	}
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if got.TriggerConfig.RunDate == nil || !got.TriggerConfig.RunDate.Equal(want) {
		t.Errorf("run date = %v, want past date preserved", got.TriggerConfig.RunDate)
	}
	if len(got.History) != 1 || got.History[0].Message != "done" {
		t.Errorf("history = %+v", got.History)
	}
}
