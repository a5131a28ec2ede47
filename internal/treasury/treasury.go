// Package treasury sends refill transfers. Signing happens in an external
// treasury signer; this package only speaks its HTTP API.
package treasury

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Disbursement executes one refill transfer. key identifies the transfer
// across retries: sending the same key twice must not move funds twice.
type Disbursement interface {
	Transfer(ctx context.Context, key, kind, destination string, amount decimal.Decimal) (core.TransferReceipt, error)
}

// DryRun logs transfers instead of sending them. Used whenever IS_LIVE is not "true".
type DryRun struct {
	logger *slog.Logger
}

// NewDryRun creates a DryRun disbursement.
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger.With("component", "treasury", "mode", "dry-run")}
}

func (d *DryRun) Transfer(_ context.Context, key, kind, destination string, amount decimal.Decimal) (core.TransferReceipt, error) {
	id := "dry-run-" + key
	d.logger.Info("not live, skipping transfer",
		"kind", kind,
		"destination", destination,
		"amount", amount.String(),
		"transfer_id", id,
	)
	return core.TransferReceipt{TransferID: id, Status: core.TransferSubmitted}, nil
}

// NormalizeStatus maps a signer status onto the known transfer statuses.
func NormalizeStatus(s string) string {
	switch s {
	case core.TransferSubmitted, core.TransferPending, core.TransferConfirmed, core.TransferFailed:
		return s
	default:
		return core.TransferUnknown
	}
}
