package flow

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/metrics"
)

var tracer = otel.Tracer("github.com/openjobspec/ojs-operator-checks/internal/flow")

// Check is one configured child of a cycle.
type Check interface {
	Name() string
	Run(ctx context.Context, stamp int64) ([]core.ProbeResult, error)
}

// ResultStore appends the aggregated batch of a cycle.
type ResultStore interface {
	Append(ctx context.Context, results []core.ProbeResult) (bool, error)
}

// CycleTracker records cycle state transitions.
type CycleTracker interface {
	Create(ctx context.Context, cycle *core.CheckCycle) error
	SetStatus(ctx context.Context, id, status string) error
	SetCheckStatus(ctx context.Context, id, check, status string) error
	MarkPersisted(ctx context.Context, id string, resultCount int) error
}

// EventPublisher emits lifecycle events.
type EventPublisher interface {
	Publish(eventType string, data map[string]any) error
}

// Event types published by the orchestrator.
const (
	EventCycleDispatched = "cycle.dispatched"
	EventCyclePersisted  = "cycle.persisted"
)

// Orchestrator fans a cycle out to its checks and aggregates the results.
type Orchestrator struct {
	checks  []Check
	store   ResultStore
	tracker CycleTracker
	events  EventPublisher
	group   *Group
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracker records cycle progress.
func WithTracker(t CycleTracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithEvents publishes cycle events.
func WithEvents(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an Orchestrator running checks in order.
func NewOrchestrator(checks []Check, store ResultStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		checks: checks,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "flow")
	o.group = NewGroup(o.logger)
	return o
}

// Checks returns the configured check names in order.
func (o *Orchestrator) Checks() []string {
	names := make([]string, len(o.checks))
	for i, c := range o.checks {
		names[i] = c.Name()
	}
	return names
}

// RunCycle runs every check with the same stamp, waits for all of them to
// settle and appends the concatenated results to the result store. A failed
// child contributes nothing; a failed append is logged and the results are
// still returned.
func (o *Orchestrator) RunCycle(ctx context.Context, stamp int64) ([]core.ProbeResult, error) {
	started := time.Now()
	cycle := &core.CheckCycle{
		ID:     core.NewUUIDv7(),
		Stamp:  stamp,
		Checks: o.Checks(),
	}

	ctx, span := tracer.Start(ctx, "cycle.run", trace.WithAttributes(
		attribute.String("cycle.id", cycle.ID),
		attribute.Int64("cycle.stamp", stamp),
		attribute.Int("cycle.checks", len(o.checks)),
	))
	defer span.End()

	logger := o.logger.With("cycle_id", cycle.ID, "stamp", stamp)

	o.track(logger, "create", func() error { return o.tracker.Create(ctx, cycle) })
	o.track(logger, "dispatch", func() error { return o.tracker.SetStatus(ctx, cycle.ID, core.CycleDispatched) })
	o.publish(logger, EventCycleDispatched, map[string]any{"cycle_id": cycle.ID, "stamp": stamp, "checks": cycle.Checks})

	tasks := make([]Task, len(o.checks))
	for i, check := range o.checks {
		tasks[i] = o.childTask(cycle.ID, stamp, check, logger)
	}
	outcomes := o.group.Run(ctx, tasks)

	o.track(logger, "aggregate", func() error { return o.tracker.SetStatus(ctx, cycle.ID, core.CycleAggregating) })

	var results []core.ProbeResult
	failed := 0
	for i, out := range outcomes {
		name := o.checks[i].Name()
		status := core.CheckDone
		if out.Err != nil {
			failed++
			status = core.CheckFailed
			metrics.ChildFailures.WithLabelValues(name).Inc()
			logger.Error("check failed", "check", name, "error", out.Err)
		}
		o.track(logger, "check status", func() error { return o.tracker.SetCheckStatus(ctx, cycle.ID, name, status) })
		results = append(results, out.Results...)
	}
	if results == nil {
		results = []core.ProbeResult{}
	}

	var aggErr error
	if _, err := o.store.Append(ctx, results); err != nil {
		aggErr = core.NewAggregationError(cycle.ID, err)
		span.RecordError(aggErr)
		span.SetStatus(codes.Error, "append failed")
		logger.Error("appending cycle results", "error", aggErr, "results", len(results))
	}

	o.track(logger, "persist", func() error { return o.tracker.MarkPersisted(ctx, cycle.ID, len(results)) })

	status := core.CyclePersisted
	if aggErr != nil {
		status = "append_failed"
	}
	metrics.CyclesTotal.WithLabelValues(status).Inc()
	metrics.CycleDuration.Observe(time.Since(started).Seconds())

	o.publish(logger, EventCyclePersisted, map[string]any{
		"cycle_id": cycle.ID,
		"stamp":    stamp,
		"results":  len(results),
		"failed":   failed,
	})
	logger.Info("cycle persisted", "results", len(results), "failed_checks", failed, "duration", time.Since(started).String())

	return results, nil
}

func (o *Orchestrator) childTask(cycleID string, stamp int64, check Check, logger *slog.Logger) Task {
	return func(ctx context.Context) ([]core.ProbeResult, error) {
		ctx, span := tracer.Start(ctx, "cycle.check", trace.WithAttributes(
			attribute.String("cycle.id", cycleID),
			attribute.String("check", check.Name()),
		))
		defer span.End()

		o.track(logger, "check running", func() error {
			return o.tracker.SetCheckStatus(ctx, cycleID, check.Name(), core.CheckRunning)
		})

		results, err := check.Run(ctx, stamp)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetAttributes(attribute.Int("check.results", len(results)))
		return results, nil
	}
}

// track runs a cycle-state write; failures never affect the cycle itself.
func (o *Orchestrator) track(logger *slog.Logger, step string, fn func() error) {
	if o.tracker == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Warn("recording cycle state", "step", step, "error", err)
	}
}

func (o *Orchestrator) publish(logger *slog.Logger, eventType string, data map[string]any) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(eventType, data); err != nil {
		logger.Warn("publishing event", "type", eventType, "error", err)
	}
}
