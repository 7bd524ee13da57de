package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddJob(t *testing.T) {
	var mu sync.Mutex
	var calls []string

	sched := New(nil)
	err := sched.AddJob("desk", "@every 1s", "digest", func() {
		mu.Lock()
		calls = append(calls, "digest")
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}

	// Start cron and wait for it to fire
	sched.cron.Start()
	time.Sleep(1500 * time.Millisecond)
	sched.cron.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 {
		t.Error("expected at least one call")
	}
}

func TestInvalidSchedule(t *testing.T) {
	sched := New(nil)
	err := sched.AddJob("desk", "invalid-cron", "digest", func() {})
	if err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestListJobs(t *testing.T) {
	sched := New(nil)
	sched.AddJob("desk", "@every 1h", "a", func() {})
	sched.AddJob("desk", "@every 2h", "b", func() {})
	sched.AddJob("reports", "@every 3h", "c", func() {})

	if n := len(sched.ListJobs("desk")); n != 2 {
		t.Errorf("desk jobs = %d", n)
	}
	if n := len(sched.ListJobs("reports")); n != 1 {
		t.Errorf("reports jobs = %d", n)
	}
}

func TestAfter_Fires(t *testing.T) {
	sched := New(nil)
	done := make(chan struct{})
	sched.After("c-1", 10*time.Millisecond, func() { close(done) })

	if sched.Pending("c-1") != 1 {
		t.Errorf("Pending = %d", sched.Pending("c-1"))
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	// take() runs before fn, so the task is gone once fn has run.
	if sched.Pending("c-1") != 0 {
		t.Errorf("Pending after fire = %d", sched.Pending("c-1"))
	}
}

func TestCancel(t *testing.T) {
	sched := New(nil)
	var fired atomic.Int32
	sched.After("c-1", 50*time.Millisecond, func() { fired.Add(1) })
	sched.After("c-1", 60*time.Millisecond, func() { fired.Add(1) })
	sched.After("c-2", 10*time.Millisecond, func() { fired.Add(10) })
	sched.AddJob("c-1", "@every 1h", "x", func() {})

	if n := sched.Cancel("c-1"); n != 3 {
		t.Errorf("Cancel = %d, want 3", n)
	}
	time.Sleep(120 * time.Millisecond)
	if got := fired.Load(); got != 10 {
		t.Errorf("fired = %d, want only the c-2 task", got)
	}
	if sched.JobCount() != 0 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}
}

func TestAfter_PanicRecovered(t *testing.T) {
	sched := New(nil)
	done := make(chan struct{})
	sched.After("c-1", time.Millisecond, func() { panic("boom") })
	sched.After("c-1", 20*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second task did not fire after first panicked")
	}
}

func TestStart_DropsPendingTasks(t *testing.T) {
	sched := New(nil)
	var fired atomic.Bool
	sched.After("c-1", 100*time.Millisecond, func() { fired.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sched.Start(ctx) }()
	cancel()
	<-errCh

	time.Sleep(150 * time.Millisecond)
	if fired.Load() {
		t.Error("task fired after scheduler stopped")
	}
}
