package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingBackend struct {
	promoted atomic.Int32
	reaped   atomic.Int32
	err      error
}

func (b *countingBackend) PromoteScheduled(context.Context) error {
	b.promoted.Add(1)
	return b.err
}

func (b *countingBackend) RequeueStalled(context.Context) error {
	b.reaped.Add(1)
	return b.err
}

func TestSchedulerStop_Idempotent(t *testing.T) {
	s := &Scheduler{
		stop: make(chan struct{}),
	}

	s.Stop()

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Stop should be idempotent, panicked on second call: %v", r)
		}
	}()

	s.Stop()
}

func TestScheduler_RunsBothTasks(t *testing.T) {
	backend := &countingBackend{}
	s := New(backend, WithPromoteSpec("@every 1s"), WithReapSpec("@every 1s"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if backend.promoted.Load() > 0 && backend.reaped.Load() > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("tasks did not run: promoted=%d reaped=%d", backend.promoted.Load(), backend.reaped.Load())
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := New(&countingBackend{}, WithPromoteSpec("not a spec"))
	if err := s.Start(); err == nil {
		t.Fatal("Start() with invalid spec should fail")
	}
}

func TestScheduler_RunSkippedAfterStop(t *testing.T) {
	backend := &countingBackend{err: errors.New("kv down")}
	s := New(backend)
	s.Stop()

	s.run("promote-scheduled", backend.PromoteScheduled)

	if got := backend.promoted.Load(); got != 0 {
		t.Fatalf("PromoteScheduled called %d times after Stop, want 0", got)
	}
}
