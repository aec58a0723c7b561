// Package scheduler fires stored prompts into the assistant on cron
// expressions, fixed intervals, or one-shot timestamps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/penates/penates/internal/bus"
	"github.com/penates/penates/internal/store"
)

// FireFunc handles a job firing: it receives the job's prompt and runs a
// full assistant turn with it.
type FireFunc func(ctx context.Context, jobName, prompt string)

// Scheduler owns the cron runner and keeps persisted jobs in sync with it.
type Scheduler struct {
	store  *store.Store
	events *bus.EventBus
	fire   FireFunc
	logger *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID // job id -> cron entry
	timers  map[string]*time.Timer  // job id -> one-shot timer
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(st *store.Store, events *bus.EventBus, fire FireFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   st,
		events:  events,
		fire:    fire,
		logger:  logger.With("component", "scheduler"),
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		timers:  make(map[string]*time.Timer),
	}
}

// Start loads persisted jobs and begins running them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	jobs, err := s.store.ListJobs()
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.arm(job); err != nil {
			s.logger.Warn("skipping unparseable job", "job", job.Name, "schedule", job.Schedule, "error", err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop halts the runner and cancels pending one-shot timers.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.cron.Stop()
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()
}

// RegisterTick arms an unpersisted periodic callback, used for built-in
// rhythms that are not user jobs.
func (s *Scheduler) RegisterTick(every time.Duration, fn func()) {
	s.cron.Schedule(cron.Every(every), cron.FuncJob(fn))
}

// Add persists a new job and arms it immediately.
func (s *Scheduler) Add(name, schedule, prompt string) (*store.ScheduledJob, error) {
	// Validate before persisting.
	if _, _, err := parseSchedule(schedule); err != nil {
		return nil, err
	}
	job, err := s.store.AddJob(name, schedule, prompt)
	if err != nil {
		return nil, err
	}
	if err := s.arm(job); err != nil {
		return nil, err
	}
	s.publishChanged("added", job.Name)
	return job, nil
}

// Remove disarms and deletes a job by id or name.
func (s *Scheduler) Remove(idOrName string) error {
	jobs, err := s.store.ListJobs()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.JobID == idOrName || job.Name == idOrName {
			s.disarm(job.JobID)
			if err := s.store.RemoveJob(job.JobID); err != nil {
				return err
			}
			s.publishChanged("removed", job.Name)
			return nil
		}
	}
	return store.ErrJobNotFound
}

// List returns the persisted jobs.
func (s *Scheduler) List() ([]*store.ScheduledJob, error) {
	return s.store.ListJobs()
}

func (s *Scheduler) publishChanged(action, name string) {
	if s.events != nil {
		s.events.Publish(bus.EventSchedulerChanged, map[string]any{
			"action": action,
			"job":    name,
		})
	}
}

func (s *Scheduler) arm(job *store.ScheduledJob) error {
	sched, oneShot, err := parseSchedule(job.Schedule)
	if err != nil {
		return err
	}

	jobID, name, prompt := job.JobID, job.Name, job.Prompt

	if oneShot != nil {
		delay := time.Until(*oneShot)
		if delay < 0 {
			// Missed while we were down; fire shortly after startup.
			delay = time.Second
		}
		s.mu.Lock()
		s.timers[jobID] = time.AfterFunc(delay, func() {
			s.run(jobID, name, prompt)
			// One-shot jobs remove themselves after firing.
			if err := s.store.RemoveJob(jobID); err == nil {
				s.publishChanged("removed", name)
			}
			s.mu.Lock()
			delete(s.timers, jobID)
			s.mu.Unlock()
		})
		s.mu.Unlock()
		return nil
	}

	entryID := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.run(jobID, name, prompt)
	}))
	s.mu.Lock()
	s.entries[jobID] = entryID
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) disarm(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
	}
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
		delete(s.timers, jobID)
	}
}

func (s *Scheduler) run(jobID, name, prompt string) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("scheduled job firing", "job", name)
	if err := s.store.MarkJobRun(jobID); err != nil {
		s.logger.Warn("failed to record job run", "job", name, "error", err)
	}
	if s.fire != nil {
		s.fire(ctx, name, prompt)
	}
}

// parseSchedule accepts a 5-field cron expression, an RFC3339 timestamp
// (one-shot), or "every N <seconds|minutes|hours|days>".
func parseSchedule(schedule string) (cron.Schedule, *time.Time, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, nil, errors.New("empty schedule")
	}

	if strings.HasPrefix(strings.ToLower(schedule), "every ") {
		d, err := parseEvery(schedule)
		if err != nil {
			return nil, nil, err
		}
		return cron.Every(d), nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, schedule); err == nil {
		return nil, &ts, nil
	}

	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, nil, fmt.Errorf("unrecognized schedule %q: %w", schedule, err)
	}
	return sched, nil, nil
}

func parseEvery(s string) (time.Duration, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 3 {
		return 0, fmt.Errorf("expected 'every N <unit>', got %q", s)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval count %q", fields[1])
	}
	unit := strings.TrimSuffix(fields[2], "s")
	switch unit {
	case "second", "sec":
		return time.Duration(n) * time.Second, nil
	case "minute", "min":
		return time.Duration(n) * time.Minute, nil
	case "hour":
		return time.Duration(n) * time.Hour, nil
	case "day":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown interval unit %q", fields[2])
}
