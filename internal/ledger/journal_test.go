package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Keys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *memStore) GetJSON(_ context.Context, key string, v any) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return 0, errors.New("key not found")
	}
	return 1, json.Unmarshal(data, v)
}

func (m *memStore) PutJSON(_ context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return 1, nil
}

type fixedSource struct {
	status string
	err    error
	calls  int
}

func (f *fixedSource) Status(context.Context, string) (string, error) {
	f.calls++
	return f.status, f.err
}

func TestJournal_RecentTransfersToNewestFirst(t *testing.T) {
	j := NewJournal(newMemStore(), nil, "0xspender", nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"tx-a", "tx-b", "tx-c"} {
		require.NoError(t, j.Record(ctx, core.Transfer{
			ID:          id,
			Kind:        core.RefillNative,
			Destination: "0xDEST",
			Amount:      "1",
			Status:      core.TransferSubmitted,
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, j.Record(ctx, core.Transfer{ID: "tx-other", Destination: "0xelse", Status: core.TransferSubmitted}))

	recent, err := j.RecentTransfersTo(ctx, "0xdest", 2)

	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "tx-c", recent[0].TransferID)
	assert.Equal(t, "tx-b", recent[1].TransferID)
	assert.Equal(t, core.SettlementUnconfirmed, recent[0].State)
}

func TestJournal_IgnoresOtherSpenders(t *testing.T) {
	j := NewJournal(newMemStore(), nil, "0xspender", nil)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, core.Transfer{ID: "tx-1", Spender: "0xsomeoneelse", Destination: "0xdest", Status: core.TransferPending}))

	recent, err := j.RecentTransfersTo(ctx, "0xdest", 10)

	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestJournal_StatusOfRefreshesAndConfirms(t *testing.T) {
	store := newMemStore()
	source := &fixedSource{status: core.TransferConfirmed}
	j := NewJournal(store, source, "0xspender", nil)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, core.Transfer{ID: "tx-1", Destination: "0xdest", Status: core.TransferSubmitted}))

	status, err := j.StatusOf(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, core.TransferConfirmed, status)

	recent, err := j.RecentTransfersTo(ctx, "0xdest", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, core.SettlementConfirmed, recent[0].State)
	require.NotNil(t, recent[0].ConfirmedAt)

	// Settled transfers are answered from the journal.
	_, err = j.StatusOf(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
}

func TestJournal_StatusOfSubmittedIsPending(t *testing.T) {
	j := NewJournal(newMemStore(), nil, "", nil)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, core.Transfer{ID: "tx-1", Destination: "0xdest", Status: core.TransferSubmitted}))

	status, err := j.StatusOf(ctx, "tx-1")

	require.NoError(t, err)
	assert.Equal(t, core.TransferPending, status)
}

func TestJournal_StatusOfSourceError(t *testing.T) {
	source := &fixedSource{err: errors.New("signer down")}
	j := NewJournal(newMemStore(), source, "", nil)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, core.Transfer{ID: "tx-1", Destination: "0xdest", Status: core.TransferPending}))

	_, err := j.StatusOf(ctx, "tx-1")

	require.Error(t, err)
}

func TestJournal_StatusOfUnresolvableSubmittedTransfer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		age         time.Duration
		want        string
		wantJournal string
	}{
		{"inside abandon window reads pending", 30 * time.Minute, core.TransferPending, core.TransferSubmitted},
		{"past abandon window is written off", 3 * time.Hour, core.TransferFailed, core.TransferFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			j := NewJournal(store, &fixedSource{status: core.TransferUnknown}, "", nil,
				WithClock(func() time.Time { return now }),
				WithAbandonAfter(2*time.Hour),
			)
			ctx := context.Background()
			require.NoError(t, j.Record(ctx, core.Transfer{
				ID:          "job-1",
				Destination: "0xdest",
				Status:      core.TransferSubmitted,
				SubmittedAt: now.Add(-tt.age),
			}))

			status, err := j.StatusOf(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)

			var stored core.Transfer
			_, err = store.GetJSON(ctx, "job-1", &stored)
			require.NoError(t, err)
			assert.Equal(t, tt.wantJournal, stored.Status)
		})
	}
}

func TestJournal_StatusOfUnknownTransfer(t *testing.T) {
	j := NewJournal(newMemStore(), nil, "", nil)
	_, err := j.StatusOf(context.Background(), "missing")
	require.Error(t, err)
}

func TestJournal_RecordRequiresID(t *testing.T) {
	j := NewJournal(newMemStore(), nil, "", nil)
	err := j.Record(context.Background(), core.Transfer{})
	assert.True(t, core.HasCode(err, core.ErrCodeInvalidRequest))
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "0xabc", keyFor("0xabc"))
	assert.Equal(t, "dry-run-1_2", keyFor("dry-run-1:2"))
}
