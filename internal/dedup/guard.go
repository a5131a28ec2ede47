// Package dedup suppresses refills to destinations that may still have a
// prior transfer in flight.
//
// The guard is deliberately conservative: every failure mode resolves to
// "pending", so a missed refill is possible but a duplicate one is not.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Defaults.
const (
	DefaultTTL      = 2 * time.Hour
	DefaultLookback = 10
)

// Ledger lists recent transfers from the service's spender and resolves
// their live settlement status.
type Ledger interface {
	RecentTransfersTo(ctx context.Context, destination string, limit int) ([]core.PendingRefill, error)
	StatusOf(ctx context.Context, transferID string) (string, error)
}

// Guard decides whether a refill to a destination should be held back.
type Guard struct {
	ledger   Ledger
	ttl      time.Duration
	lookback int
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL sets how long a confirmed transfer still counts as a candidate.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLookback bounds how many recent transfers are inspected.
func WithLookback(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.lookback = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New creates a Guard over ledger.
func New(ledger Ledger, opts ...Option) *Guard {
	g := &Guard{
		ledger:   ledger,
		ttl:      DefaultTTL,
		lookback: DefaultLookback,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "dedup")
	return g
}

// HasPendingRefill reports whether a refill to destination must be suppressed.
func (g *Guard) HasPendingRefill(ctx context.Context, destination string) bool {
	recent, err := g.ledger.RecentTransfersTo(ctx, destination, g.lookback)
	if err != nil {
		g.logger.Error("pending transfer lookup failed, assuming pending",
			"destination", destination,
			"error", core.NewLedgerQueryError(destination, err),
		)
		return true
	}

	candidates := g.withinTTL(recent)
	if len(candidates) == 0 {
		return false
	}

	for _, c := range candidates {
		status, err := g.ledger.StatusOf(ctx, c.TransferID)
		if err != nil {
			g.logger.Error("transfer status lookup failed, assuming pending",
				"destination", destination,
				"transfer_id", c.TransferID,
				"error", err,
			)
			return true
		}
		if status == core.TransferPending {
			g.logger.Warn("refill suppressed, prior transfer still pending",
				"destination", destination,
				"transfer_id", c.TransferID,
			)
			return true
		}
	}

	return false
}

// withinTTL keeps unconfirmed transfers regardless of age and confirmed ones
// whose confirmation falls inside the TTL window.
func (g *Guard) withinTTL(recent []core.PendingRefill) []core.PendingRefill {
	cutoff := g.now().Add(-g.ttl)

	var kept []core.PendingRefill
	for _, r := range recent {
		if r.State == core.SettlementConfirmed {
			if r.ConfirmedAt == nil || r.ConfirmedAt.Before(cutoff) {
				continue
			}
		}
		kept = append(kept, r)
	}
	return kept
}
