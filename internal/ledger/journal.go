// Package ledger keeps the journal of refill transfers sent by this service
// and answers the pending-transfer questions asked before each refill.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Store is the keyed JSON storage the journal lives in.
type Store interface {
	Keys(ctx context.Context) ([]string, error)
	GetJSON(ctx context.Context, key string, v any) (uint64, error)
	PutJSON(ctx context.Context, key string, v any) (uint64, error)
}

// StatusSource resolves the live status of a transfer.
type StatusSource interface {
	Status(ctx context.Context, transferID string) (string, error)
}

// DefaultAbandonAfter is how long a submitted transfer the signer has never
// heard of keeps reading as pending.
const DefaultAbandonAfter = 2 * time.Hour

// Journal records transfers and materializes PendingRefill views of them.
type Journal struct {
	store        Store
	source       StatusSource
	spender      string
	abandonAfter time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithAbandonAfter sets how long an unresolvable submitted transfer is
// treated as pending before it is written off as failed.
func WithAbandonAfter(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.abandonAfter = d
		}
	}
}

// WithClock overrides the journal's clock.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// NewJournal creates a Journal for transfers sent from spender. source may
// be nil, in which case journaled statuses are authoritative.
func NewJournal(store Store, source StatusSource, spender string, logger *slog.Logger, opts ...Option) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		store:        store,
		source:       source,
		spender:      spender,
		abandonAfter: DefaultAbandonAfter,
		now:          time.Now,
		logger:       logger.With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record journals a transfer.
func (j *Journal) Record(ctx context.Context, t core.Transfer) error {
	if t.ID == "" {
		return core.NewInvalidRequestError("Transfer id is required.", nil)
	}
	if t.Spender == "" {
		t.Spender = j.spender
	}
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = j.now().UTC()
	}
	if _, err := j.store.PutJSON(ctx, keyFor(t.ID), t); err != nil {
		return fmt.Errorf("journal transfer %s: %w", t.ID, err)
	}
	return nil
}

// RecentTransfersTo returns up to limit of the newest transfers from the
// spender to destination.
func (j *Journal) RecentTransfersTo(ctx context.Context, destination string, limit int) ([]core.PendingRefill, error) {
	transfers, err := j.transfersTo(ctx, destination)
	if err != nil {
		return nil, err
	}
	sort.Slice(transfers, func(a, b int) bool {
		return transfers[a].SubmittedAt.After(transfers[b].SubmittedAt)
	})
	if limit > 0 && len(transfers) > limit {
		transfers = transfers[:limit]
	}

	out := make([]core.PendingRefill, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, core.PendingRefill{
			Destination: t.Destination,
			TransferID:  t.ID,
			ObservedAt:  t.SubmittedAt,
			ConfirmedAt: t.ConfirmedAt,
			State:       settlementOf(t.Status),
		})
	}
	return out, nil
}

// StatusOf returns the live status of a journaled transfer. Settled
// statuses come from the journal; others are refreshed from the status
// source and written back. Submitted transfers report as pending, and so
// does a submitted transfer the source cannot resolve, until it is older
// than the abandon window and is written off as failed.
func (j *Journal) StatusOf(ctx context.Context, transferID string) (string, error) {
	var t core.Transfer
	if _, err := j.store.GetJSON(ctx, keyFor(transferID), &t); err != nil {
		return "", fmt.Errorf("load transfer %s: %w", transferID, err)
	}

	if t.Status == core.TransferConfirmed || t.Status == core.TransferFailed || j.source == nil {
		return pendingIfSubmitted(t.Status), nil
	}

	status, err := j.source.Status(ctx, transferID)
	if err != nil {
		return "", err
	}

	if status == core.TransferUnknown {
		if t.Status != core.TransferSubmitted {
			return status, nil
		}
		if j.now().Sub(t.SubmittedAt) <= j.abandonAfter {
			return core.TransferPending, nil
		}
		j.logger.Error("abandoning transfer the signer cannot resolve",
			"alarm", "refill-abandoned",
			"transfer_id", t.ID,
			"destination", t.Destination,
			"submitted_at", t.SubmittedAt,
		)
		status = core.TransferFailed
	}

	if status != t.Status {
		t.Status = status
		if status == core.TransferConfirmed {
			at := j.now().UTC()
			t.ConfirmedAt = &at
		}
		if _, err := j.store.PutJSON(ctx, keyFor(t.ID), t); err != nil {
			j.logger.Warn("updating journaled transfer status", "transfer_id", t.ID, "error", err)
		}
	}
	return pendingIfSubmitted(status), nil
}

func (j *Journal) transfersTo(ctx context.Context, destination string) ([]core.Transfer, error) {
	keys, err := j.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}

	var out []core.Transfer
	for _, key := range keys {
		var t core.Transfer
		if _, err := j.store.GetJSON(ctx, key, &t); err != nil {
			continue
		}
		if !strings.EqualFold(t.Destination, destination) {
			continue
		}
		if j.spender != "" && t.Spender != "" && !strings.EqualFold(t.Spender, j.spender) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func settlementOf(status string) string {
	switch status {
	case core.TransferConfirmed:
		return core.SettlementConfirmed
	case core.TransferSubmitted, core.TransferPending:
		return core.SettlementUnconfirmed
	default:
		return core.SettlementUnknown
	}
}

func pendingIfSubmitted(status string) string {
	if status == core.TransferSubmitted {
		return core.TransferPending
	}
	return status
}

// keyFor maps a transfer id onto the KV key alphabet.
func keyFor(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '=':
			return r
		default:
			return '_'
		}
	}, id)
}
