// Package task defines the scheduled task model and its trigger mechanics.
//
// Three trigger families are supported:
//   - "interval": recurring, period assembled from seconds/minutes/hours/days
//   - "cron":     standard 5-field cron expression (parsed by gronx)
//   - "date":     one-time execution at an absolute instant
//
// A task optionally carries an agent prompt; when set, a fire issues a
// sampling request back to the connected client instead of a no-op.
package task

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ParseStatus validates a wire-level status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusScheduled, StatusRunning, StatusPaused, StatusCompleted, StatusError:
		return Status(s), nil
	}
	return "", Validationf("invalid status %q (expected scheduled, running, paused, completed or error)", s)
}

// Outcome is the result of a single fire, used for last_status and history
// entries. Empty means "no fire yet".
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeRunning Outcome = "running"
)

// MaxHistory bounds the per-task history; older entries are dropped on
// insertion.
const MaxHistory = 10

// HistoryEntry records one fire of a task.
type HistoryEntry struct {
	RunAt   time.Time
	Status  Outcome
	Message string
}

// Task is a durable scheduled job.
type Task struct {
	ID   string
	Name string // accepted by the tools, never persisted (see store migrations)

	TriggerType   TriggerType
	TriggerConfig TriggerConfig

	// AgentPrompt, when non-empty, makes each fire issue a reverse
	// sampling/createMessage request carrying this instruction.
	AgentPrompt string

	// Legacy tool-call fields. Retained and surfaced but never invoked.
	MCPServer    string
	MCPTool      string
	MCPArguments string

	Enabled bool
	Status  Status

	CreatedAt time.Time
	UpdatedAt time.Time

	LastRun     *time.Time
	LastStatus  Outcome
	LastMessage string
	NextRun     *time.Time

	// History is newest-first, at most MaxHistory entries.
	History []HistoryEntry
}

// PrependHistory inserts an entry at the front and truncates to MaxHistory.
func (t *Task) PrependHistory(e HistoryEntry) {
	t.History = append([]HistoryEntry{e}, t.History...)
	if len(t.History) > MaxHistory {
		t.History = t.History[:MaxHistory]
	}
}

// DisplayName returns the in-memory name, falling back to the id. The name
// column was dropped from storage, so hydrated tasks only have an id.
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID creates a task id of the form "task-<unix-millis>-<7-char-random>".
func NewID(now time.Time) string {
	b := make([]byte, 7)
	rand.Read(b)
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return fmt.Sprintf("task-%d-%s", now.UnixMilli(), b)
}
