// Package schedule implements the Scheduler: a 30-second tick over every
// project's cron-bound prompts, enqueuing a formatted task into the
// target minion's queue on fire and tracking retry/backoff and history
// per spec §4.8.
package schedule

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/internal/formatter"
	"github.com/minionctl/orchestrator/internal/orcherr"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

// TickInterval is the Scheduler's evaluation period (spec §4.8: "ticks
// every 30 s").
const TickInterval = 30 * time.Second

// backoffBase is the retry curve's unit: next_run = now + base*2^(n-1).
const backoffBase = 60 * time.Second

// Enqueuer is the subset of internal/queue.Manager the Scheduler needs
// to deliver a fired prompt to its target minion.
type Enqueuer interface {
	Enqueue(ctx context.Context, sid, content string, resetSession bool, metadata map[string]any) (*types.QueueItem, error)
}

// SessionSnapshot is the subset of internal/session.Manager the
// Scheduler needs to record a minion's current state in each execution.
type SessionSnapshot interface {
	Get(sid string) (*types.Session, error)
}

// Manager owns schedule CRUD and the background firing loop.
type Manager struct {
	storage  *storage.Storage
	queue    Enqueuer
	sessions SessionSnapshot

	mu        sync.Mutex
	schedules map[string]*types.Schedule

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager backed by store. Load must be called
// before Run to populate the in-memory schedule set from disk.
func NewManager(store *storage.Storage, queue Enqueuer, sessions SessionSnapshot) *Manager {
	return &Manager{
		storage:   store,
		queue:     queue,
		sessions:  sessions,
		schedules: make(map[string]*types.Schedule),
	}
}

func (m *Manager) path(id string) []string { return []string{"schedule", id} }

// Load reads every persisted schedule from disk. Every still-Active
// schedule has its next_run recomputed from now — missed windows while
// the process was down are silently skipped, matching spec §4.8's
// explicit no-backfill policy.
func (m *Manager) Load(ctx context.Context) error {
	ids, err := m.storage.List(ctx, []string{"schedule"})
	if err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to list schedules", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		var s types.Schedule
		if err := m.storage.Get(ctx, m.path(id), &s); err != nil {
			log.Warn().Err(err).Str("scheduleID", id).Msg("skipping unreadable schedule on load")
			continue
		}
		if s.Status == types.ScheduleActive {
			next, err := nextRun(s.Cron, time.Now())
			if err != nil {
				log.Warn().Err(err).Str("scheduleID", id).Msg("invalid cron on load, pausing")
				s.Status = types.SchedulePaused
				s.NextRun = nil
			} else {
				ts := float64(next.UnixMilli()) / 1000
				s.NextRun = &ts
			}
		}
		sCopy := s
		m.schedules[s.ID] = &sCopy
	}
	return nil
}

// Run starts the 30-second tick loop. It returns immediately; the loop
// runs until ctx is canceled or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.tick(runCtx)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for the in-flight tick (if any)
// to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// tick fires every due schedule. Each fire runs independently so one
// slow or failing schedule never delays another's evaluation.
func (m *Manager) tick(ctx context.Context) {
	now := time.Now()
	nowSecs := float64(now.UnixMilli()) / 1000

	m.mu.Lock()
	var due []*types.Schedule
	for _, s := range m.schedules {
		if s.Status == types.ScheduleActive && s.NextRun != nil && *s.NextRun <= nowSecs {
			due = append(due, s)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	var wg sync.WaitGroup
	for _, s := range due {
		wg.Add(1)
		go func(s *types.Schedule) {
			defer wg.Done()
			m.fire(ctx, s.ID, nowSecs)
		}(s)
	}
	wg.Wait()
}

// fire executes one schedule's steps 1-8 (spec §4.8).
func (m *Manager) fire(ctx context.Context, scheduleID string, scheduledTime float64) {
	m.mu.Lock()
	s, ok := m.schedules[scheduleID]
	m.mu.Unlock()
	if !ok {
		return
	}

	minionState := ""
	if m.sessions != nil {
		if sess, err := m.sessions.Get(s.MinionID); err == nil {
			minionState = string(sess.State)
		}
	}

	exec := &types.ScheduleExecution{
		ExecutionID:   ulid.Make().String(),
		ScheduleID:    s.ID,
		ScheduledTime: scheduledTime,
		ActualFire:    float64(time.Now().UnixMilli()) / 1000,
		MinionState:   minionState,
		RetryNumber:   s.FailureCount,
	}

	prompt := formatter.ScheduledTask(s.Name, s.Prompt)
	item, err := m.queue.Enqueue(ctx, s.MinionID, prompt, s.ResetSession, map[string]any{
		"scheduleID":    s.ID,
		"scheduledTime": scheduledTime,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-fetch in case a concurrent CRUD mutation (pause/cancel/delete)
	// landed while the enqueue was in flight.
	s, ok = m.schedules[scheduleID]
	if !ok {
		return
	}

	if err != nil {
		errMsg := err.Error()
		exec.Error = &errMsg
		s.FailureCount++
		if s.FailureCount <= s.MaxRetries {
			exec.Status = types.ExecutionRetry
			next := time.Now().Add(retryDelay(s.FailureCount))
			ts := float64(next.UnixMilli()) / 1000
			s.NextRun = &ts
			s.LastStatus = string(types.ExecutionRetry)
		} else {
			exec.Status = types.ExecutionFailed
			s.Status = types.SchedulePaused
			s.NextRun = nil
			s.LastStatus = string(types.ExecutionFailed)
		}
	} else {
		exec.Status = types.ExecutionQueued
		exec.QueueID = &item.QueueID
		now := float64(time.Now().UnixMilli()) / 1000
		s.LastRun = &now
		s.ExecutionCount++
		s.FailureCount = 0
		s.LastStatus = string(types.ExecutionQueued)
		if next, nerr := nextRun(s.Cron, time.Now()); nerr == nil {
			ts := float64(next.UnixMilli()) / 1000
			s.NextRun = &ts
		} else {
			log.Warn().Err(nerr).Str("scheduleID", s.ID).Msg("failed to compute next run, pausing")
			s.Status = types.SchedulePaused
			s.NextRun = nil
		}
	}
	s.UpdatedAt = float64(time.Now().UnixMilli()) / 1000

	if err := m.historyLog().Append(ctx, exec); err != nil {
		log.Error().Err(err).Str("scheduleID", s.ID).Msg("failed to append schedule execution history")
	}
	event.Publish(event.Event{Type: event.ScheduleFired, Data: event.ScheduleFiredData{Execution: exec}})

	if perr := m.persistLocked(ctx, s); perr != nil {
		log.Error().Err(perr).Str("scheduleID", s.ID).Msg("failed to persist schedule after fire")
	}
}

func (m *Manager) historyLog() *storage.JSONLLog {
	return m.storage.Log([]string{"schedule_history"})
}

// retryDelay computes the nth exponential backoff duration
// (60s, 120s, 240s, ...) by driving a zero-jitter
// backoff.ExponentialBackOff through n NextBackOff calls rather than
// hand-computing 60*2^(n-1). MaxInterval is lifted so the library's
// default 60s cap does not flatten the curve.
func retryDelay(failureCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffBase
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < failureCount; i++ {
		d = b.NextBackOff()
	}
	return d
}

// nextRun computes the next fire time strictly after after, using
// gronx's 5-field cron evaluator.
func nextRun(cronExpr string, after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(cronExpr, after, false)
}

// validCron reports whether cronExpr is a well-formed 5-field
// expression gronx can evaluate.
func validCron(cronExpr string) bool {
	return gronx.IsValid(cronExpr)
}

// Create validates cronExpr, computes the first next_run, and persists a
// new Active schedule.
func (m *Manager) Create(ctx context.Context, projectID, minionID, minionName, name, cronExpr, prompt string, resetSession bool, maxRetries int) (*types.Schedule, error) {
	if !validCron(cronExpr) {
		return nil, orcherr.New(orcherr.KindValidation, "invalid cron expression")
	}
	next, err := nextRun(cronExpr, time.Now())
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindValidation, "failed to compute next run", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	now := float64(time.Now().UnixMilli()) / 1000
	ts := float64(next.UnixMilli()) / 1000
	s := &types.Schedule{
		ID:         ulid.Make().String(),
		ProjectID:  projectID,
		MinionID:   minionID,
		MinionName: minionName,
		Name:       name,
		Cron:       cronExpr,
		Prompt:     prompt,
		ResetSession: resetSession,
		Status:     types.ScheduleActive,
		NextRun:    &ts,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persistLocked(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get retrieves a schedule by id.
func (m *Manager) Get(scheduleID string) (*types.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID]
	if !ok {
		return nil, orcherr.New(orcherr.KindValidation, "schedule not found")
	}
	sCopy := *s
	return &sCopy, nil
}

// ListByProject returns every schedule scoped to projectID, ordered by
// creation time.
func (m *Manager) ListByProject(projectID string) []*types.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Schedule
	for _, s := range m.schedules {
		if s.ProjectID == projectID {
			sCopy := *s
			out = append(out, &sCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Update changes a schedule's cron expression, prompt, reset flag, or
// retry limit, recomputing next_run if the cron expression changed and
// the schedule is Active.
func (m *Manager) Update(ctx context.Context, scheduleID string, cronExpr, prompt *string, resetSession *bool, maxRetries *int) (*types.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID]
	if !ok {
		return nil, orcherr.New(orcherr.KindValidation, "schedule not found")
	}

	if cronExpr != nil {
		if !validCron(*cronExpr) {
			return nil, orcherr.New(orcherr.KindValidation, "invalid cron expression")
		}
		s.Cron = *cronExpr
		if s.Status == types.ScheduleActive {
			next, err := nextRun(s.Cron, time.Now())
			if err != nil {
				return nil, orcherr.Wrap(orcherr.KindValidation, "failed to compute next run", err)
			}
			ts := float64(next.UnixMilli()) / 1000
			s.NextRun = &ts
		}
	}
	if prompt != nil {
		s.Prompt = *prompt
	}
	if resetSession != nil {
		s.ResetSession = *resetSession
	}
	if maxRetries != nil {
		s.MaxRetries = *maxRetries
	}
	s.UpdatedAt = float64(time.Now().UnixMilli()) / 1000

	if err := m.persistLocked(ctx, s); err != nil {
		return nil, err
	}
	sCopy := *s
	return &sCopy, nil
}

// Pause preserves the cron expression but clears next_run so the
// schedule never fires until Resume.
func (m *Manager) Pause(ctx context.Context, scheduleID string) error {
	return m.transition(ctx, scheduleID, func(s *types.Schedule) error {
		s.Status = types.SchedulePaused
		s.NextRun = nil
		return nil
	})
}

// Resume clears the failure counter and recomputes next_run from the
// schedule's cron expression evaluated against now.
func (m *Manager) Resume(ctx context.Context, scheduleID string) error {
	return m.transition(ctx, scheduleID, func(s *types.Schedule) error {
		next, err := nextRun(s.Cron, time.Now())
		if err != nil {
			return orcherr.Wrap(orcherr.KindValidation, "failed to compute next run", err)
		}
		ts := float64(next.UnixMilli()) / 1000
		s.Status = types.ScheduleActive
		s.NextRun = &ts
		s.FailureCount = 0
		return nil
	})
}

// Cancel retires a schedule without deleting its history.
func (m *Manager) Cancel(ctx context.Context, scheduleID string) error {
	return m.transition(ctx, scheduleID, func(s *types.Schedule) error {
		s.Status = types.ScheduleCancelled
		s.NextRun = nil
		return nil
	})
}

// CancelByMinion cancels every schedule owned by minionID, regardless of
// project, as required when that minion is deleted or disposed of.
// Already-cancelled schedules are left as-is.
func (m *Manager) CancelByMinion(ctx context.Context, minionID string) error {
	m.mu.Lock()
	var ids []string
	for _, s := range m.schedules {
		if s.MinionID == minionID && s.Status != types.ScheduleCancelled {
			ids = append(ids, s.ID)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Cancel(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Delete removes a schedule's persisted state outright. Its execution
// history in schedule_history.jsonl is left untouched, matching the
// append-only log's retention elsewhere in the system.
func (m *Manager) Delete(ctx context.Context, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[scheduleID]; !ok {
		return orcherr.New(orcherr.KindValidation, "schedule not found")
	}
	if err := m.storage.Delete(ctx, m.path(scheduleID)); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to delete schedule", err)
	}
	delete(m.schedules, scheduleID)
	return nil
}

func (m *Manager) transition(ctx context.Context, scheduleID string, mutate func(*types.Schedule) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID]
	if !ok {
		return orcherr.New(orcherr.KindValidation, "schedule not found")
	}
	if err := mutate(s); err != nil {
		return err
	}
	s.UpdatedAt = float64(time.Now().UnixMilli()) / 1000
	return m.persistLocked(ctx, s)
}

// persistLocked writes s to disk and broadcasts its update. Callers must
// hold m.mu.
func (m *Manager) persistLocked(ctx context.Context, s *types.Schedule) error {
	if err := m.storage.Put(ctx, m.path(s.ID), s); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to persist schedule", err)
	}
	m.schedules[s.ID] = s
	event.Publish(event.Event{Type: event.ScheduleUpdated, Data: event.ScheduleUpdatedData{Schedule: s}})
	return nil
}
