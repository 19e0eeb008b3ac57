// Package store persists tasks and their run history in a local SQLite
// database. The database is opened in WAL mode with a single writer
// connection; schema changes run through embedded migrations at open time.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/timeutil"
)

// ErrNotFound is returned when the referenced task row does not exist.
var ErrNotFound = errors.New("task not found")

// Store is the durable task repository.
type Store struct {
	db         *sqlx.DB
	log        *slog.Logger
	now        func() time.Time
	legacyPath string
}

// Option adjusts how a Store is opened.
type Option func(*Store)

// WithLogger routes store diagnostics through log.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLegacyImport enables the one-shot JSON import: if the database is
// empty and a file exists at path, its tasks are loaded and the file is
// renamed with a .bak suffix.
func WithLegacyImport(path string) Option {
	return func(s *Store) { s.legacyPath = path }
}

// Open creates or opens the database at path and brings the schema up to
// date. The parent directory is created when missing.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if s.legacyPath != "" {
		if err := s.importLegacy(ctx, s.legacyPath); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const taskColumns = `id, trigger_type, trigger_config, mcp_server, mcp_tool, mcp_arguments,
	agent_prompt, enabled, status, created_at, updated_at, last_run, last_status, last_message, next_run`

const upsertTaskSQL = `
INSERT INTO tasks (id, trigger_type, trigger_config, mcp_server, mcp_tool, mcp_arguments,
	agent_prompt, enabled, status, created_at, updated_at, last_run, last_status, last_message, next_run)
VALUES (:id, :trigger_type, :trigger_config, :mcp_server, :mcp_tool, :mcp_arguments,
	:agent_prompt, :enabled, :status, :created_at, :updated_at, :last_run, :last_status, :last_message, :next_run)
ON CONFLICT(id) DO UPDATE SET
	trigger_type = excluded.trigger_type,
	trigger_config = excluded.trigger_config,
	mcp_server = excluded.mcp_server,
	mcp_tool = excluded.mcp_tool,
	mcp_arguments = excluded.mcp_arguments,
	agent_prompt = excluded.agent_prompt,
	enabled = excluded.enabled,
	status = excluded.status,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	last_run = excluded.last_run,
	last_status = excluded.last_status,
	last_message = excluded.last_message,
	next_run = excluded.next_run`

type taskRow struct {
	ID            string         `db:"id"`
	TriggerType   string         `db:"trigger_type"`
	TriggerConfig string         `db:"trigger_config"`
	MCPServer     sql.NullString `db:"mcp_server"`
	MCPTool       sql.NullString `db:"mcp_tool"`
	MCPArguments  sql.NullString `db:"mcp_arguments"`
	AgentPrompt   sql.NullString `db:"agent_prompt"`
	Enabled       bool           `db:"enabled"`
	Status        string         `db:"status"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
	LastRun       sql.NullString `db:"last_run"`
	LastStatus    sql.NullString `db:"last_status"`
	LastMessage   sql.NullString `db:"last_message"`
	NextRun       sql.NullString `db:"next_run"`
}

type historyRow struct {
	TaskID  string         `db:"task_id"`
	RunAt   string         `db:"run_at"`
	Status  string         `db:"status"`
	Message sql.NullString `db:"message"`
}

func rowFromTask(t *task.Task) (taskRow, error) {
	cfg, err := json.Marshal(t.TriggerConfig)
	if err != nil {
		return taskRow{}, fmt.Errorf("encode trigger_config for %s: %w", t.ID, err)
	}
	return taskRow{
		ID:            t.ID,
		TriggerType:   string(t.TriggerType),
		TriggerConfig: string(cfg),
		MCPServer:     nullString(t.MCPServer),
		MCPTool:       nullString(t.MCPTool),
		MCPArguments:  nullString(t.MCPArguments),
		AgentPrompt:   nullString(t.AgentPrompt),
		Enabled:       t.Enabled,
		Status:        string(t.Status),
		CreatedAt:     timeutil.FormatWire(t.CreatedAt),
		UpdatedAt:     timeutil.FormatWire(t.UpdatedAt),
		LastRun:       nullWire(t.LastRun),
		LastStatus:    nullString(string(t.LastStatus)),
		LastMessage:   nullString(t.LastMessage),
		NextRun:       nullWire(t.NextRun),
	}, nil
}

func (r taskRow) toTask() (*task.Task, error) {
	var cfg task.TriggerConfig
	if err := json.Unmarshal([]byte(r.TriggerConfig), &cfg); err != nil {
		return nil, fmt.Errorf("decode trigger_config for %s: %w", r.ID, err)
	}
	created, err := timeutil.ParseWire(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", r.ID, err)
	}
	updated, err := timeutil.ParseWire(r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at for %s: %w", r.ID, err)
	}
	t := &task.Task{
		ID:            r.ID,
		TriggerType:   task.TriggerType(r.TriggerType),
		TriggerConfig: cfg,
		MCPServer:     r.MCPServer.String,
		MCPTool:       r.MCPTool.String,
		MCPArguments:  r.MCPArguments.String,
		AgentPrompt:   r.AgentPrompt.String,
		Enabled:       r.Enabled,
		Status:        task.Status(r.Status),
		CreatedAt:     created,
		UpdatedAt:     updated,
		LastStatus:    task.Outcome(r.LastStatus.String),
		LastMessage:   r.LastMessage.String,
		History:       []task.HistoryEntry{},
	}
	if t.LastRun, err = wireTime(r.LastRun); err != nil {
		return nil, fmt.Errorf("decode last_run for %s: %w", r.ID, err)
	}
	if t.NextRun, err = wireTime(r.NextRun); err != nil {
		return nil, fmt.Errorf("decode next_run for %s: %w", r.ID, err)
	}
	return t, nil
}

// Upsert writes the task row atomically. A nil History leaves existing
// history rows untouched; a non-nil slice replaces them, written oldest
// first so row ids follow fire order.
func (s *Store) Upsert(ctx context.Context, t *task.Task) error {
	row, err := rowFromTask(t)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, upsertTaskSQL, row); err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	if t.History != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_history WHERE task_id = ?`, t.ID); err != nil {
			return fmt.Errorf("clear history for %s: %w", t.ID, err)
		}
		for i := len(t.History) - 1; i >= 0; i-- {
			e := t.History[i]
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_history (task_id, run_at, status, message) VALUES (?, ?, ?, ?)`,
				t.ID, timeutil.FormatWire(e.RunAt), string(e.Status), nullString(e.Message)); err != nil {
				return fmt.Errorf("insert history for %s: %w", t.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert for %s: %w", t.ID, err)
	}
	return nil
}

// Get loads one task with its history, newest entry first.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	t, err := row.toTask()
	if err != nil {
		return nil, err
	}

	var hist []historyRow
	err = s.db.SelectContext(ctx, &hist,
		`SELECT task_id, run_at, status, message FROM task_history WHERE task_id = ? ORDER BY run_at DESC, id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", id, err)
	}
	for _, h := range hist {
		e, err := h.toEntry()
		if err != nil {
			return nil, err
		}
		t.History = append(t.History, e)
	}
	return t, nil
}

// List loads every task ordered by creation time, histories attached
// newest first.
func (s *Store) List(ctx context.Context) ([]*task.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	var hist []historyRow
	if err := s.db.SelectContext(ctx, &hist,
		`SELECT task_id, run_at, status, message FROM task_history ORDER BY run_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	byTask := make(map[string][]task.HistoryEntry, len(rows))
	for _, h := range hist {
		e, err := h.toEntry()
		if err != nil {
			return nil, err
		}
		byTask[h.TaskID] = append(byTask[h.TaskID], e)
	}

	tasks := make([]*task.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		if entries, ok := byTask[r.ID]; ok {
			t.History = entries
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Delete removes a task and, through the foreign key, its history. The
// returned bool reports whether a row existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task %s: %w", id, err)
	}
	return n > 0, nil
}

// StatusUpdate is a partial update of a task's run bookkeeping. Nil fields
// are not written. ClearNextRun wins over NextRun and nulls the column.
type StatusUpdate struct {
	Status       *task.Status
	LastRun      *time.Time
	LastStatus   *task.Outcome
	LastMessage  *string
	NextRun      *time.Time
	ClearNextRun bool
}

// UpdateStatus applies u to one task. updated_at is always touched.
func (s *Store) UpdateStatus(ctx context.Context, id string, u StatusUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{timeutil.FormatWire(s.now())}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*u.Status))
	}
	if u.LastRun != nil {
		sets = append(sets, "last_run = ?")
		args = append(args, timeutil.FormatWire(*u.LastRun))
	}
	if u.LastStatus != nil {
		sets = append(sets, "last_status = ?")
		args = append(args, nullString(string(*u.LastStatus)))
	}
	if u.LastMessage != nil {
		sets = append(sets, "last_message = ?")
		args = append(args, nullString(*u.LastMessage))
	}
	switch {
	case u.ClearNextRun:
		sets = append(sets, "next_run = NULL")
	case u.NextRun != nil:
		sets = append(sets, "next_run = ?")
		args = append(args, timeutil.FormatWire(*u.NextRun))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearHistory drops all history rows and nulls the last-run bookkeeping.
func (s *Store) ClearHistory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET last_run = NULL, last_status = NULL, last_message = NULL, updated_at = ? WHERE id = ?`,
		timeutil.FormatWire(s.now()), id)
	if err != nil {
		return fmt.Errorf("clear history for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear history for %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_history WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("clear history for %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear history for %s: %w", id, err)
	}
	return nil
}

// Count returns the number of task rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM tasks`); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

func (h historyRow) toEntry() (task.HistoryEntry, error) {
	runAt, err := timeutil.ParseWire(h.RunAt)
	if err != nil {
		return task.HistoryEntry{}, fmt.Errorf("decode history run_at for %s: %w", h.TaskID, err)
	}
	return task.HistoryEntry{
		RunAt:   runAt,
		Status:  task.Outcome(h.Status),
		Message: h.Message.String,
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullWire(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeutil.FormatWire(*t), Valid: true}
}

func wireTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := timeutil.ParseWire(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
