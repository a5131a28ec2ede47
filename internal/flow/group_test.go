package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

func TestGroupRun_OutcomesInTaskOrder(t *testing.T) {
	g := NewGroup(nil)
	tasks := []Task{
		func(ctx context.Context) ([]core.ProbeResult, error) {
			time.Sleep(20 * time.Millisecond)
			return []core.ProbeResult{{Kind: "slow"}}, nil
		},
		func(ctx context.Context) ([]core.ProbeResult, error) {
			return []core.ProbeResult{{Kind: "fast"}}, nil
		},
	}

	outcomes := g.Run(context.Background(), tasks)

	require.Len(t, outcomes, 2)
	assert.Equal(t, "slow", outcomes[0].Results[0].Kind)
	assert.Equal(t, "fast", outcomes[1].Results[0].Kind)
}

func TestGroupRun_FailureDoesNotCancelSiblings(t *testing.T) {
	g := NewGroup(nil)
	var finished atomic.Int32

	tasks := []Task{
		func(ctx context.Context) ([]core.ProbeResult, error) {
			return nil, errors.New("rpc down")
		},
		func(ctx context.Context) ([]core.ProbeResult, error) {
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			finished.Add(1)
			return []core.ProbeResult{{Kind: "ok"}}, nil
		},
	}

	outcomes := g.Run(context.Background(), tasks)

	require.Error(t, outcomes[0].Err)
	assert.Empty(t, outcomes[0].Results)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, int32(1), finished.Load())
}

func TestGroupRun_PanicBecomesOutcome(t *testing.T) {
	g := NewGroup(nil)
	tasks := []Task{
		func(ctx context.Context) ([]core.ProbeResult, error) {
			panic("boom")
		},
		func(ctx context.Context) ([]core.ProbeResult, error) {
			return []core.ProbeResult{{Kind: "ok"}}, nil
		},
	}

	outcomes := g.Run(context.Background(), tasks)

	assert.ErrorIs(t, outcomes[0].Err, ErrPanicRecovered)
	assert.Len(t, outcomes[1].Results, 1)
}

func TestGroupRun_NoTasks(t *testing.T) {
	outcomes := NewGroup(nil).Run(context.Background(), nil)
	assert.Empty(t, outcomes)
}
