// Package scheduler runs the queue's periodic maintenance: promoting delayed
// jobs whose time has come and handing stalled active jobs back to their queue.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openjobspec/ojs-operator-checks/internal/metrics"
)

// Default cadences.
const (
	DefaultPromoteSpec = "@every 1s"
	DefaultReapSpec    = "@every 5s"
)

// Backend is the maintenance surface of the job queue.
type Backend interface {
	PromoteScheduled(ctx context.Context) error
	RequeueStalled(ctx context.Context) error
}

// Scheduler drives Backend maintenance on cron schedules.
type Scheduler struct {
	backend     Backend
	engine      *cron.Cron
	promoteSpec string
	reapSpec    string
	timeout     time.Duration
	logger      *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPromoteSpec overrides the delayed-job promotion schedule.
func WithPromoteSpec(spec string) Option {
	return func(s *Scheduler) { s.promoteSpec = spec }
}

// WithReapSpec overrides the stalled-job reaper schedule.
func WithReapSpec(spec string) Option {
	return func(s *Scheduler) { s.reapSpec = spec }
}

// New creates a Scheduler for backend.
func New(backend Backend, opts ...Option) *Scheduler {
	s := &Scheduler{
		backend:     backend,
		promoteSpec: DefaultPromoteSpec,
		reapSpec:    DefaultReapSpec,
		timeout:     30 * time.Second,
		logger:      slog.With("component", "scheduler"),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return s
}

// Start registers the maintenance tasks and starts the cron engine.
func (s *Scheduler) Start() error {
	tasks := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"promote-scheduled", s.promoteSpec, s.backend.PromoteScheduled},
		{"requeue-stalled", s.reapSpec, s.backend.RequeueStalled},
	}

	for _, task := range tasks {
		task := task
		if _, err := s.engine.AddFunc(task.spec, func() { s.run(task.name, task.fn) }); err != nil {
			return err
		}
	}

	s.engine.Start()
	s.logger.Info("maintenance scheduler started", "promote", s.promoteSpec, "reap", s.reapSpec)
	return nil
}

func (s *Scheduler) run(name string, fn func(context.Context) error) {
	select {
	case <-s.stop:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		metrics.SchedulerTicks.WithLabelValues(name, "error").Inc()
		s.logger.Error("maintenance task failed", "task", name, "error", err)
		return
	}
	metrics.SchedulerTicks.WithLabelValues(name, "ok").Inc()
}

// Stop halts the cron engine and waits for running tasks. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.engine != nil {
			<-s.engine.Stop().Done()
		}
	})
}
