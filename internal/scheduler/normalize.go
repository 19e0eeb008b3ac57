package scheduler

import (
	"time"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
)

// normalize recomputes the derived fields of t for the instant now and
// reports whether anything changed. History is capped, status is
// reconciled with enablement and past outcomes, and next_run is
// recomputed with any stored future plan preserved.
//
// One-shot tasks complete implicitly: a date trigger whose run already
// succeeded, or whose run_date lies in the past, is marked completed and
// disabled rather than re-armed.
func (s *Scheduler) normalize(t *task.Task, now time.Time) bool {
	changed := false

	if len(t.History) > task.MaxHistory {
		t.History = t.History[:task.MaxHistory]
		changed = true
	}

	status := t.Status
	enabled := t.Enabled
	switch {
	case !enabled:
		if status != task.StatusCompleted {
			status = task.StatusPaused
		}
	case status == task.StatusRunning:
		// A fire is in flight; the driver owns the terminal transition.
	case t.TriggerType == task.TriggerDate && s.dateDone(t, now):
		status = task.StatusCompleted
		enabled = false
	case t.LastStatus == task.OutcomeError:
		status = task.StatusError
	default:
		status = task.StatusScheduled
	}
	if status != t.Status {
		t.Status = status
		changed = true
	}
	if enabled != t.Enabled {
		t.Enabled = enabled
		changed = true
	}

	var next *time.Time
	if t.Enabled && t.Status != task.StatusCompleted {
		if n, ok := task.NextFire(t.TriggerType, t.TriggerConfig, now, s.zone, t.NextRun); ok {
			next = &n
		}
	}
	if !timePtrEqual(next, t.NextRun) {
		t.NextRun = next
		changed = true
	}

	return changed
}

// dateDone reports whether a one-shot task already ran successfully or its
// scheduled instant has passed.
func (s *Scheduler) dateDone(t *task.Task, now time.Time) bool {
	if len(t.History) > 0 && t.History[0].Status == task.OutcomeSuccess {
		return true
	}
	rd := t.TriggerConfig.RunDate
	return rd != nil && !rd.After(now)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
