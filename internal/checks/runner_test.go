package checks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/dedup"
	"github.com/openjobspec/ojs-operator-checks/internal/flow"
	"github.com/openjobspec/ojs-operator-checks/internal/probe"
	"github.com/openjobspec/ojs-operator-checks/internal/refill"
)

func fixed(amount string) probe.Probe {
	return probe.Func(func(context.Context, string) (decimal.Decimal, error) {
		return decimal.RequireFromString(amount), nil
	})
}

type refillQueue struct {
	mu     sync.Mutex
	pushed []*core.Job
}

func (q *refillQueue) Push(_ context.Context, job *core.Job) (*core.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.ID = core.NewUUIDv7()
	q.pushed = append(q.pushed, job)
	return job, nil
}

type ledgerStub struct {
	recent []core.PendingRefill
	status map[string]string
	err    error
}

func (l *ledgerStub) RecentTransfersTo(context.Context, string, int) ([]core.PendingRefill, error) {
	return l.recent, l.err
}

func (l *ledgerStub) StatusOf(_ context.Context, id string) (string, error) {
	return l.status[id], nil
}

type batchStore struct {
	mu      sync.Mutex
	batches [][]core.ProbeResult
}

func (s *batchStore) Append(_ context.Context, results []core.ProbeResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, results)
	return true, nil
}

func facilitatorDefs() []Definition {
	return []Definition{{
		Name: "check-facilitator",
		Targets: []Target{{
			Kind:    "facilitator-operator-eth",
			Probe:   ProbeNative,
			Address: "0xoperator",
			Refill:  core.RefillNative,
			Policy: core.ThresholdPolicy{
				Min: decimal.NewFromInt(100),
				Max: decimal.NewFromInt(500),
			},
		}},
	}}
}

type scenario struct {
	queue *refillQueue
	store *batchStore
	orch  *flow.Orchestrator
}

func newScenario(balance string, ledger *ledgerStub) *scenario {
	s := &scenario{queue: &refillQueue{}, store: &batchStore{}}
	runners := NewRunners(facilitatorDefs(), Deps{
		Probes: map[string]probe.Probe{ProbeNative: fixed(balance)},
		Guard:  dedup.New(ledger),
		Refill: refill.NewDispatcher(s.queue, nil, nil),
	})
	s.orch = flow.NewOrchestrator(runners, s.store)
	return s
}

func TestCycle_DepletedBalanceDispatchesRefill(t *testing.T) {
	s := newScenario("80", &ledgerStub{})

	_, err := s.orch.RunCycle(context.Background(), 42)
	require.NoError(t, err)

	require.Len(t, s.queue.pushed, 1)
	var args core.RefillArgs
	require.NoError(t, json.Unmarshal(s.queue.pushed[0].Args, &args))
	assert.Equal(t, "420", args.Amount)
	assert.Equal(t, "0xoperator", args.Destination)
	assert.Equal(t, core.RefillNative, s.queue.pushed[0].Type)

	require.Len(t, s.store.batches, 1)
	assert.Equal(t, []core.ProbeResult{{
		Stamp:         42,
		Kind:          "facilitator-operator-eth",
		Amount:        "80",
		Address:       "0xoperator",
		RequestAmount: "420",
	}}, s.store.batches[0])
}

func TestCycle_PendingTransferSuppressesRefill(t *testing.T) {
	ledger := &ledgerStub{
		recent: []core.PendingRefill{{
			Destination: "0xoperator",
			TransferID:  "tx-old",
			ObservedAt:  time.Now().Add(-6 * time.Hour),
			State:       core.SettlementUnconfirmed,
		}},
		status: map[string]string{"tx-old": core.TransferPending},
	}
	s := newScenario("80", ledger)

	_, err := s.orch.RunCycle(context.Background(), 43)
	require.NoError(t, err)

	assert.Empty(t, s.queue.pushed)
	require.Len(t, s.store.batches, 1)
	require.Len(t, s.store.batches[0], 1)
	assert.Equal(t, "80", s.store.batches[0][0].Amount)
}

func TestCycle_LedgerFailureSuppressesRefill(t *testing.T) {
	s := newScenario("80", &ledgerStub{err: errors.New("journal unavailable")})

	_, err := s.orch.RunCycle(context.Background(), 44)
	require.NoError(t, err)
	assert.Empty(t, s.queue.pushed)
}

func TestRunner_WithinBandAndAccumulation(t *testing.T) {
	for _, balance := range []string{"100", "250", "500", "900"} {
		s := newScenario(balance, &ledgerStub{})
		results, err := s.orch.RunCycle(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, balance, results[0].Amount)
		assert.Empty(t, results[0].RequestAmount, "balance %s", balance)
		assert.Empty(t, s.queue.pushed, "balance %s", balance)
	}
}

func TestRunner_ProbeErrorYieldsZeroSentinel(t *testing.T) {
	queue := &refillQueue{}
	runners := NewRunners(facilitatorDefs(), Deps{
		Probes: map[string]probe.Probe{ProbeNative: probe.Func(func(context.Context, string) (decimal.Decimal, error) {
			return decimal.Zero, errors.New("rpc timeout")
		})},
		Guard:  dedup.New(&ledgerStub{}),
		Refill: refill.NewDispatcher(queue, nil, nil),
	})

	results, err := runners[0].Run(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "0", results[0].Amount)
	assert.Empty(t, results[0].RequestAmount)
	assert.Empty(t, queue.pushed, "a failed probe never triggers a refill")
}

func TestRunner_NoRefillKindOnlyWarns(t *testing.T) {
	defs := facilitatorDefs()
	defs[0].Targets[0].Refill = ""
	queue := &refillQueue{}
	runners := NewRunners(defs, Deps{
		Probes: map[string]probe.Probe{ProbeNative: fixed("80")},
		Refill: refill.NewDispatcher(queue, nil, nil),
	})

	results, err := runners[0].Run(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "420", results[0].RequestAmount)
	assert.Empty(t, queue.pushed)
}

func TestNewRunners_SkipsUnconfiguredTargets(t *testing.T) {
	defs := []Definition{{
		Name: "check-mixed",
		Targets: []Target{
			{Kind: "a", Probe: ProbeNative, Address: "0xa", Policy: core.ThresholdPolicy{Max: decimal.NewFromInt(1)}},
			{Kind: "b", Probe: ProbeTurbo, Address: "wallet", Policy: core.ThresholdPolicy{Max: decimal.NewFromInt(1)}},
			{Kind: "c", Probe: ProbeNative, Address: "", Policy: core.ThresholdPolicy{Max: decimal.NewFromInt(1)}},
		},
	}}
	runners := NewRunners(defs, Deps{Probes: map[string]probe.Probe{ProbeNative: fixed("1")}})
	require.Len(t, runners, 1)
	assert.Equal(t, "check-mixed", runners[0].Name())

	results, err := runners[0].Run(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Kind)
}
