package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/timeutil"
)

// legacyTask mirrors the record shape of the pre-database tasks.json file.
// The file was hand-editable, so parsing is tolerant: json5 syntax, missing
// fields, and loose types are all accepted.
type legacyTask struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	TriggerType   string         `json:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config"`
	AgentPrompt   string         `json:"agent_prompt"`
	MCPServer     string         `json:"mcp_server"`
	MCPTool       string         `json:"mcp_tool"`
	MCPArguments  any            `json:"mcp_arguments"`
	Enabled       *bool          `json:"enabled"`
	Status        string         `json:"status"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
	LastRun       string         `json:"last_run"`
	LastStatus    string         `json:"last_status"`
	LastMessage   string         `json:"last_message"`
	NextRun       string         `json:"next_run"`
	History       []legacyEntry  `json:"history"`
}

type legacyEntry struct {
	RunAt   string `json:"run_at"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// importLegacy loads tasks from the JSON file at path into an empty
// database, then renames the file with a .bak suffix. A file that cannot
// be parsed is logged and left in place; startup continues either way.
func (s *Store) importLegacy(ctx context.Context, path string) error {
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		s.log.Warn("could not read legacy task file", "path", path, "error", err)
		return nil
	}

	records, err := decodeLegacyTasks(data)
	if err != nil {
		s.log.Warn("legacy task file is not parseable, skipping import", "path", path, "error", err)
		return nil
	}

	now := s.now()
	imported := 0
	for _, rec := range records {
		t, err := rec.toTask(now)
		if err != nil {
			s.log.Warn("skipping malformed legacy task", "id", rec.ID, "error", err)
			continue
		}
		if err := s.Upsert(ctx, t); err != nil {
			return fmt.Errorf("import legacy task %s: %w", t.ID, err)
		}
		imported++
	}

	if err := os.Rename(path, path+".bak"); err != nil {
		s.log.Warn("could not rename imported legacy file", "path", path, "error", err)
	}
	s.log.Info("imported legacy tasks", "count", imported, "path", path)
	return nil
}

func decodeLegacyTasks(data []byte) ([]legacyTask, error) {
	var direct []legacyTask
	if err := json5.Unmarshal(data, &direct); err == nil {
		return direct, nil
	}
	var wrapped struct {
		Tasks []legacyTask `json:"tasks"`
	}
	if err := json5.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Tasks == nil {
		return nil, errors.New("no task array found")
	}
	return wrapped.Tasks, nil
}

func (r legacyTask) toTask(now time.Time) (*task.Task, error) {
	tt, err := task.ParseTriggerType(r.TriggerType)
	if err != nil {
		return nil, err
	}
	cfg, err := task.CoerceTriggerConfig(tt, r.TriggerConfig, now)
	if err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:            r.ID,
		Name:          r.Name,
		TriggerType:   tt,
		TriggerConfig: cfg,
		AgentPrompt:   r.AgentPrompt,
		MCPServer:     r.MCPServer,
		MCPTool:       r.MCPTool,
		MCPArguments:  legacyArguments(r.MCPArguments),
		Enabled:       r.Enabled == nil || *r.Enabled,
		Status:        legacyStatus(r.Status),
		CreatedAt:     legacyTime(r.CreatedAt, now),
		UpdatedAt:     legacyTime(r.UpdatedAt, now),
		LastStatus:    task.Outcome(r.LastStatus),
		LastMessage:   r.LastMessage,
		History:       []task.HistoryEntry{},
	}
	if t.ID == "" {
		t.ID = task.NewID(now)
	}
	if lr, err := timeutil.ParseWire(r.LastRun); err == nil && r.LastRun != "" {
		t.LastRun = &lr
	}
	if nr, err := timeutil.ParseWire(r.NextRun); err == nil && r.NextRun != "" {
		t.NextRun = &nr
	}
	for _, e := range r.History {
		runAt, err := timeutil.ParseWire(e.RunAt)
		if err != nil {
			continue
		}
		t.History = append(t.History, task.HistoryEntry{
			RunAt:   runAt,
			Status:  task.Outcome(e.Status),
			Message: e.Message,
		})
	}
	if len(t.History) > task.MaxHistory {
		t.History = t.History[:task.MaxHistory]
	}
	return t, nil
}

func legacyStatus(s string) task.Status {
	switch task.Status(s) {
	case task.StatusScheduled, task.StatusRunning, task.StatusPaused, task.StatusCompleted, task.StatusError:
		return task.Status(s)
	}
	return task.StatusScheduled
}

func legacyTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := timeutil.ParseWire(s)
	if err != nil {
		return fallback
	}
	return t
}

func legacyArguments(v any) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return a
	default:
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Sprintf("%v", a)
		}
		return string(b)
	}
}
