package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

type stubCheck struct {
	name   string
	run    func(ctx context.Context, stamp int64) ([]core.ProbeResult, error)
	stamps []int64
	mu     sync.Mutex
}

func (c *stubCheck) Name() string { return c.name }

func (c *stubCheck) Run(ctx context.Context, stamp int64) ([]core.ProbeResult, error) {
	c.mu.Lock()
	c.stamps = append(c.stamps, stamp)
	c.mu.Unlock()
	return c.run(ctx, stamp)
}

func emitting(name string, n int) *stubCheck {
	return &stubCheck{name: name, run: func(_ context.Context, stamp int64) ([]core.ProbeResult, error) {
		out := make([]core.ProbeResult, n)
		for i := range out {
			out[i] = core.ProbeResult{Stamp: stamp, Kind: fmt.Sprintf("%s-%d", name, i), Amount: "1"}
		}
		return out, nil
	}}
}

func failing(name string) *stubCheck {
	return &stubCheck{name: name, run: func(context.Context, int64) ([]core.ProbeResult, error) {
		return nil, errors.New("probe exploded")
	}}
}

type memoryStore struct {
	mu      sync.Mutex
	batches [][]core.ProbeResult
	err     error
}

func (s *memoryStore) Append(_ context.Context, results []core.ProbeResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.batches = append(s.batches, results)
	return true, nil
}

type memoryTracker struct {
	mu       sync.Mutex
	cycles   map[string]*core.CheckCycle
	statuses []string
}

func newMemoryTracker() *memoryTracker {
	return &memoryTracker{cycles: make(map[string]*core.CheckCycle)}
}

func (m *memoryTracker) Create(_ context.Context, cycle *core.CheckCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cycle
	c.Status = core.CycleCreated
	c.CheckStatus = map[string]string{}
	m.cycles[c.ID] = &c
	m.statuses = append(m.statuses, core.CycleCreated)
	return nil
}

func (m *memoryTracker) SetStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[id].Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memoryTracker) SetCheckStatus(_ context.Context, id, check, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[id].CheckStatus[check] = status
	return nil
}

func (m *memoryTracker) MarkPersisted(_ context.Context, id string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[id].Status = core.CyclePersisted
	m.cycles[id].ResultCount = n
	m.statuses = append(m.statuses, core.CyclePersisted)
	return nil
}

func (m *memoryTracker) only(t *testing.T) *core.CheckCycle {
	t.Helper()
	require.Len(t, m.cycles, 1)
	for _, c := range m.cycles {
		return c
	}
	return nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) Publish(eventType string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	return nil
}

func TestRunCycle_ConcatenatesInCheckOrder(t *testing.T) {
	store := &memoryStore{}
	checks := []Check{emitting("facilitator", 2), emitting("distribution", 0), emitting("registry", 1)}
	o := NewOrchestrator(checks, store)

	results, err := o.RunCycle(context.Background(), 1700000000000)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "facilitator-0", results[0].Kind)
	assert.Equal(t, "facilitator-1", results[1].Kind)
	assert.Equal(t, "registry-0", results[2].Kind)
	require.Len(t, store.batches, 1)
	assert.Equal(t, results, store.batches[0])
}

func TestRunCycle_SameStampForEveryChild(t *testing.T) {
	a, b := emitting("a", 1), emitting("b", 1)
	o := NewOrchestrator([]Check{a, b}, &memoryStore{})

	results, err := o.RunCycle(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, []int64{42}, a.stamps)
	assert.Equal(t, []int64{42}, b.stamps)
	for _, r := range results {
		assert.Equal(t, int64(42), r.Stamp)
	}
}

func TestRunCycle_ToleratesNMinusOneFailures(t *testing.T) {
	store := &memoryStore{}
	checks := []Check{failing("a"), failing("b"), emitting("c", 2), failing("d")}
	tracker := newMemoryTracker()
	o := NewOrchestrator(checks, store, WithTracker(tracker))

	results, err := o.RunCycle(context.Background(), 1)

	require.NoError(t, err)
	assert.Len(t, results, 2)
	require.Len(t, store.batches, 1, "exactly one persisted batch")
	assert.Len(t, store.batches[0], 2)

	cycle := tracker.only(t)
	assert.Equal(t, core.CyclePersisted, cycle.Status)
	assert.Equal(t, core.CheckFailed, cycle.CheckStatus["a"])
	assert.Equal(t, core.CheckDone, cycle.CheckStatus["c"])
	assert.Equal(t, 2, cycle.ResultCount)
}

func TestRunCycle_AllChildrenFailStillPersistsEmptyBatch(t *testing.T) {
	store := &memoryStore{}
	o := NewOrchestrator([]Check{failing("a"), failing("b")}, store)

	results, err := o.RunCycle(context.Background(), 1)

	require.NoError(t, err)
	assert.Empty(t, results)
	require.Len(t, store.batches, 1)
	assert.Empty(t, store.batches[0])
}

func TestRunCycle_PanickingChildRecordedFailed(t *testing.T) {
	store := &memoryStore{}
	tracker := newMemoryTracker()
	panicky := &stubCheck{name: "panicky", run: func(context.Context, int64) ([]core.ProbeResult, error) {
		panic("nil map")
	}}
	o := NewOrchestrator([]Check{panicky, emitting("ok", 1)}, store, WithTracker(tracker))

	results, err := o.RunCycle(context.Background(), 7)

	require.NoError(t, err)
	assert.Len(t, results, 1)
	require.Len(t, store.batches, 1)
	cycle := tracker.only(t)
	assert.Equal(t, core.CheckFailed, cycle.CheckStatus["panicky"])
	assert.Equal(t, core.CyclePersisted, cycle.Status)
}

func TestRunCycle_AppendFailureStillReturnsResults(t *testing.T) {
	store := &memoryStore{err: errors.New("mongo unavailable")}
	o := NewOrchestrator([]Check{emitting("a", 2)}, store)

	results, err := o.RunCycle(context.Background(), 1)

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRunCycle_StatusTransitionsAndEvents(t *testing.T) {
	tracker := newMemoryTracker()
	events := &recordingEvents{}
	o := NewOrchestrator([]Check{emitting("a", 1)}, &memoryStore{}, WithTracker(tracker), WithEvents(events))

	_, err := o.RunCycle(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, []string{core.CycleCreated, core.CycleDispatched, core.CycleAggregating, core.CyclePersisted}, tracker.statuses)
	assert.Equal(t, []string{EventCycleDispatched, EventCyclePersisted}, events.types)
}

func TestRunCycle_BatchSizeIsSumOfChildren(t *testing.T) {
	for n := 1; n <= 4; n++ {
		var checks []Check
		want := 0
		for i := 0; i < n; i++ {
			count := i % 3
			want += count
			checks = append(checks, emitting(fmt.Sprintf("c%d", i), count))
		}
		store := &memoryStore{}
		results, err := NewOrchestrator(checks, store).RunCycle(context.Background(), int64(n))
		require.NoError(t, err)
		assert.Len(t, results, want, "n=%d", n)
		assert.Len(t, store.batches, 1)
	}
}
