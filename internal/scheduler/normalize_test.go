package scheduler

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
)

var normNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func normScheduler() *Scheduler {
	return &Scheduler{zone: time.UTC}
}

func TestNormalize_TruncatesHistory(t *testing.T) {
	s := normScheduler()
	tk := &task.Task{
		TriggerType:   task.TriggerInterval,
		TriggerConfig: task.TriggerConfig{Minutes: 5},
		Enabled:       true,
		Status:        task.StatusScheduled,
	}
	for i := 0; i < 14; i++ {
		tk.History = append(tk.History, task.HistoryEntry{RunAt: normNow, Status: task.OutcomeSuccess})
	}

	if !s.normalize(tk, normNow) {
		t.Fatal("expected change reported")
	}
	if len(tk.History) != task.MaxHistory {
		t.Errorf("expected history capped at %d, got %d", task.MaxHistory, len(tk.History))
	}
}

func TestNormalize_DisabledBecomesPaused(t *testing.T) {
	s := normScheduler()
	next := normNow.Add(time.Hour)
	tk := &task.Task{
		TriggerType:   task.TriggerInterval,
		TriggerConfig: task.TriggerConfig{Hours: 1},
		Enabled:       false,
		Status:        task.StatusScheduled,
		NextRun:       &next,
	}

	if !s.normalize(tk, normNow) {
		t.Fatal("expected change reported")
	}
	if tk.Status != task.StatusPaused {
		t.Errorf("expected paused, got %q", tk.Status)
	}
	if tk.NextRun != nil {
		t.Errorf("expected next_run cleared, got %v", tk.NextRun)
	}
}

func TestNormalize_DisabledCompletedStaysCompleted(t *testing.T) {
	s := normScheduler()
	past := normNow.Add(-time.Hour)
	tk := &task.Task{
		TriggerType:   task.TriggerDate,
		TriggerConfig: task.TriggerConfig{RunDate: &past},
		Enabled:       false,
		Status:        task.StatusCompleted,
	}

	if s.normalize(tk, normNow) {
		t.Error("expected no change")
	}
	if tk.Status != task.StatusCompleted {
		t.Errorf("expected completed, got %q", tk.Status)
	}
}

func TestNormalize_RunningLeftAlone(t *testing.T) {
	s := normScheduler()
	next := normNow.Add(30 * time.Minute)
	started := normNow.Add(-time.Second)
	tk := &task.Task{
		TriggerType:   task.TriggerInterval,
		TriggerConfig: task.TriggerConfig{Hours: 1},
		Enabled:       true,
		Status:        task.StatusRunning,
		LastRun:       &started,
		LastStatus:    task.OutcomeRunning,
		NextRun:       &next,
	}

	if s.normalize(tk, normNow) {
		t.Error("expected no change")
	}
	if tk.Status != task.StatusRunning {
		t.Errorf("expected running preserved, got %q", tk.Status)
	}
}

func TestNormalize_DateWithSuccessHistoryCompletes(t *testing.T) {
	s := normScheduler()
	future := normNow.Add(time.Hour)
	tk := &task.Task{
		TriggerType:   task.TriggerDate,
		TriggerConfig: task.TriggerConfig{RunDate: &future},
		Enabled:       true,
		Status:        task.StatusScheduled,
		History: []task.HistoryEntry{
			{RunAt: normNow.Add(-time.Minute), Status: task.OutcomeSuccess, Message: "done"},
		},
	}

	if !s.normalize(tk, normNow) {
		t.Fatal("expected change reported")
	}
	if tk.Status != task.StatusCompleted {
		t.Errorf("expected completed, got %q", tk.Status)
	}
	if tk.Enabled {
		t.Error("expected task disabled once completed")
	}
	if tk.NextRun != nil {
		t.Errorf("expected no next_run, got %v", tk.NextRun)
	}
}

func TestNormalize_DatePastRunDateCompletes(t *testing.T) {
	s := normScheduler()
	past := normNow.Add(-time.Minute)
	tk := &task.Task{
		TriggerType:   task.TriggerDate,
		TriggerConfig: task.TriggerConfig{RunDate: &past},
		Enabled:       true,
		Status:        task.StatusScheduled,
	}

	if !s.normalize(tk, normNow) {
		t.Fatal("expected change reported")
	}
	if tk.Status != task.StatusCompleted || tk.Enabled {
		t.Errorf("expected completed and disabled, got status=%q enabled=%v", tk.Status, tk.Enabled)
	}
}

func TestNormalize_DateFutureStaysScheduled(t *testing.T) {
	s := normScheduler()
	future := normNow.Add(2 * time.Hour)
	tk := &task.Task{
		TriggerType:   task.TriggerDate,
		TriggerConfig: task.TriggerConfig{RunDate: &future},
		Enabled:       true,
		Status:        task.StatusScheduled,
	}

	s.normalize(tk, normNow)
	if tk.Status != task.StatusScheduled {
		t.Errorf("expected scheduled, got %q", tk.Status)
	}
	if tk.NextRun == nil || !tk.NextRun.Equal(future) {
		t.Errorf("expected next_run at run_date, got %v", tk.NextRun)
	}
}

func TestNormalize_ErrorOutcomeSetsErrorStatus(t *testing.T) {
	s := normScheduler()
	tk := &task.Task{
		TriggerType:   task.TriggerInterval,
		TriggerConfig: task.TriggerConfig{Minutes: 10},
		Enabled:       true,
		Status:        task.StatusScheduled,
		LastStatus:    task.OutcomeError,
		LastMessage:   "sampling request failed",
	}

	if !s.normalize(tk, normNow) {
		t.Fatal("expected change reported")
	}
	if tk.Status != task.StatusError {
		t.Errorf("expected error status, got %q", tk.Status)
	}
	if tk.NextRun == nil || !tk.NextRun.After(normNow) {
		t.Errorf("expected future next_run despite error, got %v", tk.NextRun)
	}
}

func TestNormalize_StalePlanRecomputed(t *testing.T) {
	s := normScheduler()
	stale := normNow.Add(-time.Minute)
	tk := &task.Task{
		TriggerType:   task.TriggerInterval,
		TriggerConfig: task.TriggerConfig{Minutes: 5},
		Enabled:       true,
		Status:        task.StatusScheduled,
		NextRun:       &stale,
	}

	if !s.normalize(tk, normNow) {
		t.Fatal("expected change reported")
	}
	want := normNow.Add(5 * time.Minute)
	if tk.NextRun == nil || !tk.NextRun.Equal(want) {
		t.Errorf("expected next_run %v, got %v", want, tk.NextRun)
	}
}

func TestNormalize_SteadyStateUnchanged(t *testing.T) {
	s := normScheduler()
	next := normNow.Add(3 * time.Minute)
	tk := &task.Task{
		TriggerType:   task.TriggerInterval,
		TriggerConfig: task.TriggerConfig{Minutes: 5},
		Enabled:       true,
		Status:        task.StatusScheduled,
		NextRun:       &next,
		History:       []task.HistoryEntry{},
	}

	if s.normalize(tk, normNow) {
		t.Error("expected steady state to report no change")
	}
	if tk.NextRun == nil || !tk.NextRun.Equal(next) {
		t.Errorf("expected planned next_run preserved, got %v", tk.NextRun)
	}
}
