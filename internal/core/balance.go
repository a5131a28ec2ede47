package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProbeResult is one measured balance within a cycle. It is immutable once produced.
type ProbeResult struct {
	Stamp         int64  `json:"stamp" bson:"stamp"`
	Kind          string `json:"kind" bson:"kind"`
	Amount        string `json:"amount" bson:"amount"`
	Address       string `json:"address,omitempty" bson:"address,omitempty"`
	RequestAmount string `json:"requestAmount,omitempty" bson:"requestAmount,omitempty"`
}

// ThresholdPolicy bounds a balance, in the same unit the probe reports.
type ThresholdPolicy struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// Validate enforces min <= max.
func (p ThresholdPolicy) Validate() error {
	if p.Min.GreaterThan(p.Max) {
		return NewConfigurationError("Threshold min exceeds max.", map[string]any{
			"min": p.Min.String(),
			"max": p.Max.String(),
		})
	}
	return nil
}

// Settlement states of a transfer as seen by the ledger.
const (
	SettlementUnconfirmed = "unconfirmed"
	SettlementConfirmed   = "confirmed"
	SettlementUnknown     = "unknown"
)

// Live transfer statuses.
const (
	TransferSubmitted = "submitted"
	TransferPending   = "pending"
	TransferConfirmed = "confirmed"
	TransferFailed    = "failed"
	TransferUnknown   = "unknown"
)

// Transfer is a journaled outgoing refill. ID is the refill job id, which
// doubles as the signer's idempotency key; Reference is the signer's own id.
type Transfer struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Spender     string     `json:"spender"`
	Destination string     `json:"destination"`
	Amount      string     `json:"amount"`
	Status      string     `json:"status"`
	Reference   string     `json:"reference,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// TransferReceipt is what a disbursement returns for one transfer request.
type TransferReceipt struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
}

// PendingRefill is a read-only view of a recent transfer to a destination.
type PendingRefill struct {
	Destination string
	TransferID  string
	ObservedAt  time.Time
	ConfirmedAt *time.Time
	State       string
}

// ServiceState is the persisted singleton gating the boot-time cycle.
type ServiceState struct {
	IsCheckingBalances bool `json:"isCheckingBalances"`
}
