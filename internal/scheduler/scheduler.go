package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs recurring cron jobs and one-shot delayed tasks. Both are
// grouped by owner so everything belonging to, say, a consultation can be
// cancelled in one call.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string][]cron.EntryID // owner → cron entries
	tasks  map[string]map[uint64]*time.Timer
	nextID uint64
	logger *slog.Logger
}

// New creates a new scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string][]cron.EntryID),
		tasks:  make(map[string]map[uint64]*time.Timer),
		logger: logger,
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled, then
// stops cron and drops all pending one-shot tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started")

	<-ctx.Done()
	s.cron.Stop()
	n := s.cancelAllTasks()
	s.logger.Info("scheduler stopped", "dropped_tasks", n)
	return ctx.Err()
}

// AddJob adds a recurring job. The schedule is a standard 5-field cron
// expression or a descriptor like @every 1h.
func (s *Scheduler) AddJob(owner, schedule, name string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug("cron fired", "owner", owner, "job", name)
		s.run(owner, name, fn)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}

	s.jobs[owner] = append(s.jobs[owner], id)
	s.logger.Info("job registered", "owner", owner, "job", name, "schedule", schedule)
	return nil
}

// After runs fn once after delay unless the owner is cancelled first.
func (s *Scheduler) After(owner string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.tasks[owner] == nil {
		s.tasks[owner] = make(map[uint64]*time.Timer)
	}
	s.tasks[owner][id] = time.AfterFunc(delay, func() {
		if !s.take(owner, id) {
			return
		}
		s.run(owner, "after", fn)
	})
}

// Cancel removes every cron job and pending one-shot task of the owner and
// returns how many were removed.
func (s *Scheduler) Cancel(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range s.jobs[owner] {
		s.cron.Remove(id)
		n++
	}
	delete(s.jobs, owner)

	for _, t := range s.tasks[owner] {
		t.Stop()
		n++
	}
	delete(s.tasks, owner)
	return n
}

// Pending returns the number of one-shot tasks waiting for the owner.
func (s *Scheduler) Pending(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks[owner])
}

// ListJobs returns all cron entry IDs for an owner.
func (s *Scheduler) ListJobs(owner string) []cron.EntryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[owner]
}

// JobCount returns the total number of cron jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, ids := range s.jobs {
		total += len(ids)
	}
	return total
}

// take removes a fired task; false means it was cancelled meanwhile.
func (s *Scheduler) take(owner string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.tasks[owner]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.tasks, owner)
	}
	return true
}

func (s *Scheduler) cancelAllTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for owner, set := range s.tasks {
		for _, t := range set {
			t.Stop()
			n++
		}
		delete(s.tasks, owner)
	}
	return n
}

func (s *Scheduler) run(owner, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "owner", owner, "job", name, "panic", r)
		}
	}()
	fn()
}
