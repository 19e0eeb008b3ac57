package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/store"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
)

// Execute runs one fire immediately, regardless of schedule. If a
// scheduled fire of the same task is in progress, the call waits for it
// to finish first. Timers are not touched.
func (s *Scheduler) Execute(ctx context.Context, id string) (*task.Task, error) {
	if !s.beginFire() {
		return nil, errors.New("scheduler is shut down")
	}
	defer s.fires.Done()

	lock := s.fireLock(id)
	lock.Lock()
	defer lock.Unlock()

	t, err := s.st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attachName(t)
	s.runFire(ctx, t)
	return s.Get(ctx, id)
}

// fireScheduled is the timer and cron callback. A tick that finds the
// task already firing is dropped; for intervals the chain is re-armed one
// period out so the schedule survives the skip.
func (s *Scheduler) fireScheduled(id string) {
	if !s.beginFire() {
		return
	}
	defer s.fires.Done()

	lock := s.fireLock(id)
	if !lock.TryLock() {
		s.log.Warn("skipping tick, previous fire still running", "task", id)
		s.rearmAfterSkip(id)
		return
	}
	defer lock.Unlock()

	ctx := context.Background()
	t, err := s.st.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.unarm(id)
			return
		}
		s.log.Error("could not load task for fire", "task", id, "error", err)
		s.rearmAfterSkip(id)
		return
	}
	s.attachName(t)
	if !t.Enabled || t.Status == task.StatusCompleted {
		s.unarm(id)
		return
	}

	alive := s.runFire(ctx, t)
	switch {
	case !alive:
		s.unarm(id)
	case t.TriggerType == task.TriggerInterval:
		s.arm(t)
	case t.TriggerType == task.TriggerDate:
		s.unarm(id)
	}
}

// runFire drives one fire of t through its full sequence: mark running,
// perform the action, record the outcome and history, recompute the next
// plan, persist. It reports false when the task row vanished mid-fire, in
// which case the result is dropped.
//
// Store writes run on a cancellation-shielded context so that an aborted
// inbound call cannot lose an outcome that already happened.
func (s *Scheduler) runFire(ctx context.Context, t *task.Task) bool {
	started := s.now()
	runID := uuid.NewString()
	log := s.log.With("task", t.ID, "run", runID)
	pctx := context.WithoutCancel(ctx)

	t.Status = task.StatusRunning
	t.LastRun = &started
	t.LastStatus = task.OutcomeRunning
	t.LastMessage = ""
	t.UpdatedAt = started
	empty := ""
	if err := s.st.UpdateStatus(pctx, t.ID, store.StatusUpdate{
		Status:      &t.Status,
		LastRun:     &started,
		LastStatus:  &t.LastStatus,
		LastMessage: &empty,
	}); err != nil {
		log.Error("could not mark task running", "error", err)
	}

	fctx, finish := s.tracer.StartFire(ctx, t.ID, runID, string(t.TriggerType))
	msg, fireErr := s.performAction(fctx, t)
	finish(fireErr)

	finished := s.now()
	if fireErr != nil {
		t.Status = task.StatusError
		t.LastStatus = task.OutcomeError
		t.LastMessage = fireErr.Error()
		log.Warn("task fire failed", "error", fireErr)
	} else {
		t.Status = task.StatusScheduled
		t.LastStatus = task.OutcomeSuccess
		t.LastMessage = msg
	}
	t.PrependHistory(task.HistoryEntry{RunAt: started, Status: t.LastStatus, Message: t.LastMessage})

	if t.TriggerType == task.TriggerDate && fireErr == nil {
		t.Status = task.StatusCompleted
		t.Enabled = false
		t.NextRun = nil
	} else if next, ok := task.NextFire(t.TriggerType, t.TriggerConfig, finished, s.zone, nil); ok {
		t.NextRun = &next
	} else {
		t.NextRun = nil
	}
	t.UpdatedAt = finished

	// The task may have been deleted while the fire ran; writing the result
	// would resurrect the row.
	if _, err := s.st.Get(pctx, t.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("task deleted during fire, dropping result")
			return false
		}
		log.Error("could not confirm task still exists", "error", err)
	}
	if err := s.st.Upsert(pctx, t); err != nil {
		log.Error("could not persist fire result", "error", err)
		return true
	}
	log.Info("task fired", "status", t.LastStatus, "next_run", wireOrEmpty(t.NextRun))
	return true
}

// performAction resolves what this fire does. Panics inside an action are
// contained and surfaced as fire errors.
func (s *Scheduler) performAction(ctx context.Context, t *task.Task) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fire panicked: %v", r)
		}
	}()

	sampler := s.currentSampler()
	switch {
	case t.AgentPrompt != "" && sampler != nil:
		msg, err = s.sample(ctx, sampler, t.AgentPrompt)
		if errors.Is(err, ErrNoSession) {
			// The transport is up but no client has completed the
			// handshake yet; the reverse channel does not exist.
			return fmt.Sprintf("Task executed: %s (no action configured)", t.DisplayName()), nil
		}
		return msg, err
	case t.AgentPrompt == "" && (t.MCPServer != "" || t.MCPTool != ""):
		return fmt.Sprintf("Task executed: %s (legacy mcp_server/mcp_tool configuration is no longer invoked)", t.DisplayName()), nil
	default:
		return fmt.Sprintf("Task executed: %s (no action configured)", t.DisplayName()), nil
	}
}

// sample sends the prompt to the connected client and waits for its
// completion under the configured timeout.
func (s *Scheduler) sample(ctx context.Context, sampler Sampler, prompt string) (string, error) {
	if !s.allowSampling() {
		return "", errors.New("sampling rate limit exceeded")
	}
	timeout := s.SamplingTimeout()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := sampler.CreateMessage(cctx, prompt)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("Sampling request timed out after %ds", int(math.Round(timeout.Seconds())))
		}
		return "", fmt.Errorf("sampling request failed: %w", err)
	}
	return "Sampling response: " + text, nil
}

// rearmAfterSkip keeps an interval chain alive after a dropped tick. The
// replacement fire lands one full period after the skipped one; the
// stored plan may already be in the past and must not be reused here.
func (s *Scheduler) rearmAfterSkip(id string) {
	t, err := s.st.Get(context.Background(), id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("could not reload task after skipped tick", "task", id, "error", err)
		}
		return
	}
	if t.TriggerType != task.TriggerInterval || !t.Enabled || t.Status == task.StatusCompleted {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.unarmLocked(id)
	s.timers[id] = time.AfterFunc(t.TriggerConfig.Duration(), func() { s.fireScheduled(id) })
}
