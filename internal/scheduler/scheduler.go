// Package scheduler owns the runtime state of persisted tasks: it arms
// timers, normalizes derived fields, and drives fires.
//
// Two timer registries cover the trigger families. Cron triggers are
// entries in a shared cron engine evaluated in the configured zone.
// Interval and date triggers are one-shot timers; interval timers are
// re-armed after each fire completes, so a slow fire pushes the next one
// a full period out instead of queueing missed ticks.
//
// Fires for one task never overlap: a scheduled tick that finds the task
// busy is dropped, a manual execute waits its turn.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/store"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/timeutil"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/tracing"
)

// DefaultSamplingTimeout bounds a sampling round trip when no explicit
// timeout is configured.
const DefaultSamplingTimeout = 180 * time.Second

// shutdownGrace is how long Shutdown waits for in-flight fires.
const shutdownGrace = 10 * time.Second

// Sampler issues a sampling/createMessage request to the connected client
// and returns the generated text.
type Sampler interface {
	CreateMessage(ctx context.Context, prompt string) (string, error)
}

// ErrNoSession reports that no client session is connected to take a
// sampling request. Fires treat it as "no reverse channel" and record a
// no-op execution instead of an error.
var ErrNoSession = errors.New("no client session connected")

// Config carries the scheduler's runtime knobs.
type Config struct {
	// Timezone is the cron evaluation and display zone. Nil means UTC.
	Timezone *time.Location

	// SamplingTimeout bounds each reverse sampling request. Zero selects
	// DefaultSamplingTimeout.
	SamplingTimeout time.Duration

	// SamplingRatePerMin caps reverse sampling requests across all tasks.
	// Zero or negative disables the cap.
	SamplingRatePerMin int
}

// Scheduler manages timers and fires for every persisted task.
type Scheduler struct {
	st      *store.Store
	log     *slog.Logger
	now     func() time.Time
	sampler Sampler
	tracer  *tracing.Tracer
	zone    *time.Location

	mu          sync.Mutex
	cron        *cron.Cron
	cronEntries map[string]cron.EntryID
	timers      map[string]*time.Timer
	names       map[string]string
	fireLocks   map[string]*sync.Mutex
	timeout     time.Duration
	limiter     *rate.Limiter
	closed      bool

	fires sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Scheduler)

// WithLogger routes scheduler diagnostics through log.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSampler connects the reverse sampling channel. Without one, fires
// with an agent prompt fall back to no-op executions.
func WithSampler(sm Sampler) Option {
	return func(s *Scheduler) { s.sampler = sm }
}

// WithTracer attaches a fire-span tracer.
func WithTracer(tr *tracing.Tracer) Option {
	return func(s *Scheduler) { s.tracer = tr }
}

// New builds a scheduler over st. Timers stay unarmed until Initialize.
func New(st *store.Store, cfg Config, opts ...Option) *Scheduler {
	zone := cfg.Timezone
	if zone == nil {
		zone = time.UTC
	}
	timeout := cfg.SamplingTimeout
	if timeout <= 0 {
		timeout = DefaultSamplingTimeout
	}

	s := &Scheduler{
		st:          st,
		log:         slog.Default(),
		now:         time.Now,
		zone:        zone,
		cronEntries: make(map[string]cron.EntryID),
		timers:      make(map[string]*time.Timer),
		names:       make(map[string]string),
		fireLocks:   make(map[string]*sync.Mutex),
		timeout:     timeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.SamplingRatePerMin > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.SamplingRatePerMin)/60.0), 1)
	}

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
		cron.WithLocation(zone),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return s
}

// Initialize hydrates every persisted task, normalizes derived state,
// persists what changed, and arms timers. The cron engine starts here.
func (s *Scheduler) Initialize(ctx context.Context) error {
	tasks, err := s.st.List(ctx)
	if err != nil {
		return fmt.Errorf("hydrate tasks: %w", err)
	}

	now := s.now()
	for _, t := range tasks {
		if s.normalize(t, now) {
			t.UpdatedAt = now
			if err := s.st.Upsert(ctx, t); err != nil {
				return fmt.Errorf("persist normalized task %s: %w", t.ID, err)
			}
		}
		s.arm(t)
	}
	s.cron.Start()

	s.mu.Lock()
	armed := len(s.cronEntries) + len(s.timers)
	s.mu.Unlock()
	s.log.Info("scheduler initialized", "tasks", len(tasks), "armed", armed)
	return nil
}

// CreateParams are the accepted fields for a new task.
type CreateParams struct {
	Name          string
	TriggerType   string
	TriggerConfig map[string]any
	AgentPrompt   string
	MCPServer     string
	MCPTool       string
	MCPArguments  string
}

// Create validates, persists and arms a new task.
func (s *Scheduler) Create(ctx context.Context, p CreateParams) (*task.Task, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, task.Validationf("name is required")
	}
	tt, err := task.ParseTriggerType(p.TriggerType)
	if err != nil {
		return nil, err
	}
	now := s.now()
	cfg, err := task.ParseTriggerConfig(tt, p.TriggerConfig, now)
	if err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:            task.NewID(now),
		Name:          name,
		TriggerType:   tt,
		TriggerConfig: cfg,
		AgentPrompt:   p.AgentPrompt,
		MCPServer:     p.MCPServer,
		MCPTool:       p.MCPTool,
		MCPArguments:  p.MCPArguments,
		Enabled:       true,
		Status:        task.StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
		History:       []task.HistoryEntry{},
	}
	if next, ok := task.NextFire(tt, cfg, now, s.zone, nil); ok {
		t.NextRun = &next
	}

	if err := s.st.Upsert(ctx, t); err != nil {
		return nil, err
	}
	s.setName(t.ID, name)
	s.arm(t)
	s.log.Info("task created", "task", t.ID, "trigger", tt, "next_run", wireOrEmpty(t.NextRun))
	return t, nil
}

// UpdateParams is a partial patch; nil fields stay untouched.
type UpdateParams struct {
	Name          *string
	TriggerType   *string
	TriggerConfig map[string]any
	AgentPrompt   *string
	MCPServer     *string
	MCPTool       *string
	MCPArguments  *string
	Enabled       *bool
}

// Update merges the patch, recomputes derived state, re-arms the timer and
// persists. Changing trigger_type requires a matching trigger_config.
func (s *Scheduler) Update(ctx context.Context, id string, p UpdateParams) (*task.Task, error) {
	t, err := s.st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attachName(t)
	now := s.now()

	newType := t.TriggerType
	if p.TriggerType != nil {
		tt, err := task.ParseTriggerType(*p.TriggerType)
		if err != nil {
			return nil, err
		}
		if tt != t.TriggerType && p.TriggerConfig == nil {
			return nil, task.Validationf("changing trigger_type requires a matching trigger_config")
		}
		newType = tt
	}
	triggerChanged := newType != t.TriggerType
	if p.TriggerConfig != nil {
		cfg, err := task.ParseTriggerConfig(newType, p.TriggerConfig, now)
		if err != nil {
			return nil, err
		}
		t.TriggerConfig = cfg
		triggerChanged = true
	}
	t.TriggerType = newType

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, task.Validationf("name must not be empty")
		}
		t.Name = name
	}
	if p.AgentPrompt != nil {
		t.AgentPrompt = *p.AgentPrompt
	}
	if p.MCPServer != nil {
		t.MCPServer = *p.MCPServer
	}
	if p.MCPTool != nil {
		t.MCPTool = *p.MCPTool
	}
	if p.MCPArguments != nil {
		t.MCPArguments = *p.MCPArguments
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}

	if triggerChanged {
		// A plan computed for the old trigger must not survive the new one.
		t.NextRun = nil
	}
	s.normalize(t, now)
	t.UpdatedAt = now

	hist := t.History
	t.History = nil
	err = s.st.Upsert(ctx, t)
	t.History = hist
	if err != nil {
		return nil, err
	}

	s.setName(id, t.Name)
	s.arm(t)
	s.log.Info("task updated", "task", id, "enabled", t.Enabled, "status", t.Status, "next_run", wireOrEmpty(t.NextRun))
	return t, nil
}

// Pause disables a task: its timer is cancelled and next_run cleared.
func (s *Scheduler) Pause(ctx context.Context, id string) (*task.Task, error) {
	enabled := false
	return s.Update(ctx, id, UpdateParams{Enabled: &enabled})
}

// Resume re-enables a paused task and recomputes its schedule.
func (s *Scheduler) Resume(ctx context.Context, id string) (*task.Task, error) {
	enabled := true
	return s.Update(ctx, id, UpdateParams{Enabled: &enabled})
}

// Delete cancels the task's timers and removes it. A fire already in
// progress finishes on its own; its final write is dropped once the row
// is gone.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.unarm(id)
	existed, err := s.st.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return store.ErrNotFound
	}
	s.mu.Lock()
	delete(s.names, id)
	delete(s.fireLocks, id)
	s.mu.Unlock()
	s.log.Info("task deleted", "task", id)
	return nil
}

// Get returns one task with its in-memory name attached and derived state
// normalized for the current instant.
func (s *Scheduler) Get(ctx context.Context, id string) (*task.Task, error) {
	t, err := s.st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attachName(t)
	s.normalize(t, s.now())
	return t, nil
}

// List returns all tasks ordered by creation time. status, when non-empty,
// filters by lifecycle state.
func (s *Scheduler) List(ctx context.Context, status string) ([]*task.Task, error) {
	var filter task.Status
	if status != "" {
		st, err := task.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		filter = st
	}

	tasks, err := s.st.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		s.attachName(t)
		s.normalize(t, now)
		if filter != "" && t.Status != filter {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ClearHistory wipes run history and last-run bookkeeping, then returns the
// refreshed task.
func (s *Scheduler) ClearHistory(ctx context.Context, id string) (*task.Task, error) {
	if err := s.st.ClearHistory(ctx, id); err != nil {
		return nil, err
	}
	s.log.Info("task history cleared", "task", id)
	return s.Get(ctx, id)
}

// Describe projects t for presentation in the configured zone.
func (s *Scheduler) Describe(t *task.Task) *task.Described {
	return task.Describe(t, s.zone)
}

// Zone returns the configured display and cron evaluation zone.
func (s *Scheduler) Zone() *time.Location {
	return s.zone
}

// SamplingTimeout returns the current per-request timeout.
func (s *Scheduler) SamplingTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// SetSamplingTimeout adjusts the per-request timeout, e.g. on config reload.
func (s *Scheduler) SetSamplingTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// SetSampler connects the reverse sampling channel. The transport layer is
// wired after the scheduler exists, so this runs once during startup.
func (s *Scheduler) SetSampler(sm Sampler) {
	s.mu.Lock()
	s.sampler = sm
	s.mu.Unlock()
}

func (s *Scheduler) currentSampler() Sampler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampler
}

// SetSamplingRate replaces the reverse-request limiter; perMin <= 0 removes
// the cap.
func (s *Scheduler) SetSamplingRate(perMin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perMin <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), 1)
}

// Shutdown cancels every timer, stops the cron engine and waits briefly
// for in-flight fires. In-flight sampling requests keep running until
// their own timeout; the grace period is not extended for them.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, tm := range s.timers {
		tm.Stop()
		delete(s.timers, id)
	}
	for id, entry := range s.cronEntries {
		s.cron.Remove(entry)
		delete(s.cronEntries, id)
	}
	s.mu.Unlock()

	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.fires.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.log.Warn("shutdown grace elapsed with fires still running")
	}
	s.log.Info("scheduler stopped")
}

// arm replaces any existing timer for t. Disabled and completed tasks stay
// unarmed.
func (s *Scheduler) arm(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unarmLocked(t.ID)
	if s.closed || !t.Enabled || t.Status == task.StatusCompleted {
		return
	}

	id := t.ID
	switch t.TriggerType {
	case task.TriggerCron:
		entry, err := s.cron.AddFunc(t.TriggerConfig.Expression, func() { s.fireScheduled(id) })
		if err != nil {
			s.log.Error("could not arm cron trigger", "task", id, "expression", t.TriggerConfig.Expression, "error", err)
			return
		}
		s.cronEntries[id] = entry
	case task.TriggerInterval:
		delay := t.TriggerConfig.Duration()
		if t.NextRun != nil {
			delay = t.NextRun.Sub(s.now())
		}
		s.timers[id] = time.AfterFunc(delay, func() { s.fireScheduled(id) })
	case task.TriggerDate:
		if t.NextRun == nil {
			return
		}
		s.timers[id] = time.AfterFunc(t.NextRun.Sub(s.now()), func() { s.fireScheduled(id) })
	}
}

func (s *Scheduler) unarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unarmLocked(id)
}

func (s *Scheduler) unarmLocked(id string) {
	if entry, ok := s.cronEntries[id]; ok {
		s.cron.Remove(entry)
		delete(s.cronEntries, id)
	}
	if tm, ok := s.timers[id]; ok {
		tm.Stop()
		delete(s.timers, id)
	}
}

// fireLock returns the per-task mutex that serializes fires.
func (s *Scheduler) fireLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.fireLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.fireLocks[id] = l
	}
	return l
}

// beginFire registers an in-flight fire unless the scheduler is shut down.
func (s *Scheduler) beginFire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.fires.Add(1)
	return true
}

func (s *Scheduler) setName(id, name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
}

func (s *Scheduler) attachName(t *task.Task) {
	s.mu.Lock()
	t.Name = s.names[t.ID]
	s.mu.Unlock()
}

func (s *Scheduler) allowSampling() bool {
	s.mu.Lock()
	l := s.limiter
	s.mu.Unlock()
	return l == nil || l.Allow()
}

// wireOrEmpty renders an optional instant for log attributes.
func wireOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeutil.FormatWire(*t)
}
