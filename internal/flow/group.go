// Package flow runs a check cycle: N independent child tasks behind an
// all-settled barrier, followed by a single aggregation step.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// ErrPanicRecovered marks an Outcome whose task panicked.
var ErrPanicRecovered = errors.New("flow: panic recovered")

// Task produces the results of one child.
type Task func(ctx context.Context) ([]core.ProbeResult, error)

// Outcome is the settled value of one task. Err != nil means the task
// failed and Results is empty.
type Outcome struct {
	Results []core.ProbeResult
	Err     error
}

// Group runs tasks concurrently and waits until every one of them settles.
// Unlike an errgroup, one failure never cancels its siblings.
type Group struct {
	logger *slog.Logger
}

// NewGroup creates a Group. A nil logger falls back to slog.Default.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger}
}

// Run starts every task and returns their outcomes in task order.
func (g *Group) Run(ctx context.Context, tasks []Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, task := range tasks {
		go func(i int, task Task) {
			defer wg.Done()
			outcomes[i] = g.settle(ctx, task)
		}(i, task)
	}
	wg.Wait()

	return outcomes
}

func (g *Group) settle(ctx context.Context, task Task) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			out = Outcome{Err: fmt.Errorf("%w: %v", ErrPanicRecovered, r)}
		}
	}()

	results, err := task(ctx)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Results: results}
}
