// Package refill enqueues refill jobs and executes them on the worker side.
package refill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/metrics"
)

// Event types published by this package.
const (
	EventRefillDispatched = "refill.dispatched"
	EventRefillSubmitted  = "refill.submitted"
	EventRefillFailed     = "refill.failed"
)

// Queue accepts jobs.
type Queue interface {
	Push(ctx context.Context, job *core.Job) (*core.Job, error)
}

// EventPublisher emits lifecycle events.
type EventPublisher interface {
	Publish(eventType string, data map[string]any) error
}

// Dispatcher turns a refill request into a job on the refills queue.
type Dispatcher struct {
	queue  Queue
	events EventPublisher
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. events may be nil.
func NewDispatcher(queue Queue, events EventPublisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, events: events, logger: logger.With("component", "refill")}
}

// RequestRefill enqueues one refill job with no delay. An identical refill
// still waiting in the queue absorbs the request.
func (d *Dispatcher) RequestRefill(ctx context.Context, kind, destination string, amount decimal.Decimal) error {
	if !core.IsRefillKind(kind) {
		return core.NewDispatchError(kind, fmt.Errorf("unknown refill kind %q", kind))
	}
	if destination == "" {
		return core.NewDispatchError(kind, fmt.Errorf("empty destination"))
	}
	if !amount.IsPositive() {
		return core.NewDispatchError(kind, fmt.Errorf("non-positive amount %s", amount))
	}

	args, err := json.Marshal(core.RefillArgs{Destination: destination, Amount: amount.String()})
	if err != nil {
		return core.NewDispatchError(kind, err)
	}

	job := core.DefaultJobOptions.Apply(&core.Job{
		Type:  kind,
		Queue: core.QueueRefills,
		Args:  args,
		Unique: &core.UniquePolicy{
			Keys:       []string{"type", "args"},
			OnConflict: "ignore",
		},
	})

	created, err := d.queue.Push(ctx, job)
	if err != nil {
		return core.NewDispatchError(kind, err)
	}
	if created.IsExisting {
		d.logger.Info("identical refill already queued", "kind", kind, "destination", destination, "job_id", created.ID)
		return nil
	}

	metrics.RefillsDispatched.WithLabelValues(kind).Inc()
	d.logger.Info("refill queued", "kind", kind, "destination", destination, "amount", amount.String(), "job_id", created.ID)
	if d.events != nil {
		_ = d.events.Publish(EventRefillDispatched, map[string]any{
			"job_id":      created.ID,
			"kind":        kind,
			"destination": destination,
			"amount":      amount.String(),
		})
	}
	return nil
}
