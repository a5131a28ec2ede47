package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// CycleStore records check cycles and their per-check progress.
type CycleStore struct {
	store *Store
}

// NewCycleStore creates a new CycleStore.
func NewCycleStore(kv jetstream.KeyValue) *CycleStore {
	return &CycleStore{store: NewStore(kv)}
}

// Create stores a new cycle in the created status.
func (c *CycleStore) Create(ctx context.Context, cycle *core.CheckCycle) error {
	if cycle.Status == "" {
		cycle.Status = core.CycleCreated
	}
	if cycle.CreatedAt == "" {
		cycle.CreatedAt = core.FormatTime(time.Now())
	}
	if _, err := c.store.CreateJSON(ctx, cycle.ID, cycle); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return core.NewConflictError(fmt.Sprintf("Cycle '%s' already exists.", cycle.ID), nil)
		}
		return fmt.Errorf("create cycle %s: %w", cycle.ID, err)
	}
	return nil
}

// Get returns a cycle by id.
func (c *CycleStore) Get(ctx context.Context, id string) (*core.CheckCycle, error) {
	var cycle core.CheckCycle
	if _, err := c.store.GetJSON(ctx, id, &cycle); err != nil {
		if IsNotFound(err) {
			return nil, core.NewNotFoundError("Cycle", id)
		}
		return nil, err
	}
	return &cycle, nil
}

// SetStatus moves a cycle to a new status.
func (c *CycleStore) SetStatus(ctx context.Context, id, status string) error {
	return c.update(ctx, id, func(cycle *core.CheckCycle) {
		cycle.Status = status
	})
}

// SetCheckStatus records the status of one check within a cycle and keeps
// the completed/failed counters in step.
func (c *CycleStore) SetCheckStatus(ctx context.Context, id, check, status string) error {
	return c.update(ctx, id, func(cycle *core.CheckCycle) {
		if cycle.CheckStatus == nil {
			cycle.CheckStatus = make(map[string]string)
		}
		cycle.CheckStatus[check] = status
		cycle.Completed, cycle.Failed = 0, 0
		for _, s := range cycle.CheckStatus {
			switch s {
			case core.CheckDone:
				cycle.Completed++
			case core.CheckFailed:
				cycle.Failed++
			}
		}
	})
}

// MarkPersisted closes a cycle after its results were appended.
func (c *CycleStore) MarkPersisted(ctx context.Context, id string, resultCount int) error {
	return c.update(ctx, id, func(cycle *core.CheckCycle) {
		cycle.Status = core.CyclePersisted
		cycle.ResultCount = resultCount
		cycle.PersistedAt = core.FormatTime(time.Now())
	})
}

func (c *CycleStore) update(ctx context.Context, id string, mutate func(*core.CheckCycle)) error {
	if !c.store.Exists(ctx, id) {
		return core.NewNotFoundError("Cycle", id)
	}
	var cycle core.CheckCycle
	return c.store.UpdateJSON(ctx, id, &cycle, func() {
		mutate(&cycle)
	})
}
