package checks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// DefaultCheckDelay is the interval between cycles when none is configured.
const DefaultCheckDelay = 5 * time.Minute

// TriggerQueue is the subset of the job queue the scheduler needs.
type TriggerQueue interface {
	Push(ctx context.Context, job *core.Job) (*core.Job, error)
	Count(ctx context.Context, queue string, states ...string) (int, error)
	Obliterate(ctx context.Context, queue string) (int, error)
}

// StateStore persists the ServiceState singleton.
type StateStore interface {
	Load(ctx context.Context) (core.ServiceState, error)
	SetChecking(ctx context.Context, checking bool) error
}

// Cycler runs one check cycle.
type Cycler interface {
	RunCycle(ctx context.Context, stamp int64) ([]core.ProbeResult, error)
}

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	Queue TriggerQueue
	State StateStore
	// Delay between cycles; DefaultCheckDelay when zero.
	Delay time.Duration
	// Production disables the boot-time queue wipe and immediate cycle.
	Production bool
	// Clean wipes the trigger queue on boot even in production.
	Clean  bool
	Logger *slog.Logger
}

// Scheduler owns the poll cadence of check cycles.
type Scheduler struct {
	queue      TriggerQueue
	state      StateStore
	delay      time.Duration
	production bool
	clean      bool
	now        func() time.Time
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultCheckDelay
	}
	return &Scheduler{
		queue:      cfg.Queue,
		state:      cfg.State,
		delay:      delay,
		production: cfg.Production,
		clean:      cfg.Clean,
		now:        time.Now,
		logger:     logger.With("component", "scheduler"),
	}
}

// Delay returns the configured interval between cycles.
func (s *Scheduler) Delay() time.Duration { return s.delay }

// ScheduleNextCheck enqueues one trigger after delay unless the trigger queue
// already holds waiting or delayed jobs (and active ones, unless
// skipActiveCheck). It reports whether a trigger was enqueued.
func (s *Scheduler) ScheduleNextCheck(ctx context.Context, delay time.Duration, skipActiveCheck bool) (bool, error) {
	states := []string{core.StateAvailable, core.StateScheduled}
	if !skipActiveCheck {
		states = append(states, core.StateActive)
	}

	backlog, err := s.queue.Count(ctx, core.QueueTasks, states...)
	if err != nil {
		s.logger.Warn("counting trigger backlog failed, scheduling anyway", "error", err)
	} else if backlog > 0 {
		s.logger.Info("trigger queue backlogged, not scheduling", "backlog", backlog, "states", states)
		return false, nil
	}

	job := core.DefaultJobOptions.Apply(&core.Job{
		Type:    core.JobCheckBalances,
		Queue:   core.QueueTasks,
		DelayMs: delay.Milliseconds(),
	})
	created, err := s.queue.Push(ctx, job)
	if err != nil {
		dispatchErr := core.NewDispatchError(core.JobCheckBalances, err)
		s.logger.Error("scheduling next check failed", "alarm", "check-scheduling-failed", "error", dispatchErr)
		return false, dispatchErr
	}

	s.logger.Info("next check scheduled", "job_id", created.ID, "delay", delay.String())
	return true, nil
}

// OnBoot restores the loop at process start. A missing or unreadable state
// counts as not running, which forces an immediate cycle unless a production
// trigger is still queued; that trigger then keeps its own delay.
func (s *Scheduler) OnBoot(ctx context.Context) error {
	state, err := s.state.Load(ctx)
	if err != nil {
		s.logger.Error("loading service state failed, assuming not running", "error", err)
		state = core.ServiceState{}
	}

	if !s.production || s.clean {
		removed, err := s.queue.Obliterate(ctx, core.QueueTasks)
		if err != nil {
			s.logger.Error("cleaning trigger queue failed", "error", err)
		} else {
			s.logger.Debug("cleaned trigger queue", "removed", removed)
		}
	}

	delay := s.delay
	if !state.IsCheckingBalances || !s.production {
		delay = 0
	}

	if _, err := s.ScheduleNextCheck(ctx, delay, false); err != nil {
		return err
	}

	if err := s.state.SetChecking(ctx, true); err != nil {
		s.logger.Error("persisting service state failed", "error", err)
	}
	s.logger.Info("check loop started", "delay", delay.String(), "was_checking", state.IsCheckingBalances)
	return nil
}

// Stop records that the loop is no longer running.
func (s *Scheduler) Stop(ctx context.Context) {
	if err := s.state.SetChecking(ctx, false); err != nil {
		s.logger.Error("persisting service state failed", "error", err)
	}
}

// TriggerHandler consumes check-balances jobs: it runs a cycle and then
// queues the next trigger. The running trigger is itself active, so the
// follow-up skips the active count.
func (s *Scheduler) TriggerHandler(cycles Cycler) func(ctx context.Context, job *core.Job) ([]byte, error) {
	return func(ctx context.Context, job *core.Job) ([]byte, error) {
		defer func() {
			_, _ = s.ScheduleNextCheck(context.WithoutCancel(ctx), s.delay, true)
		}()

		stamp := s.now().UnixMilli()
		s.logger.Debug("running check cycle", "job_id", job.ID, "stamp", stamp)

		results, err := cycles.RunCycle(ctx, stamp)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"stamp": stamp, "results": len(results)})
	}
}
