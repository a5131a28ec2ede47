package refill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/metrics"
	"github.com/openjobspec/ojs-operator-checks/internal/treasury"
	"github.com/openjobspec/ojs-operator-checks/internal/worker"
)

// Journal records live transfers, keyed by refill job id.
type Journal interface {
	Record(ctx context.Context, t core.Transfer) error
}

// BalanceProbe reads the balance of an address.
type BalanceProbe interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// SpenderCheck is the wallet a refill kind is paid from and how to read
// its balance.
type SpenderCheck struct {
	Probe   BalanceProbe
	Address string
}

// Handlers executes refill jobs against a Disbursement.
type Handlers struct {
	disbursement treasury.Disbursement
	journal      Journal
	events       EventPublisher
	spender      string
	live         bool
	prechecks    map[string]SpenderCheck
	now          func() time.Time
	logger       *slog.Logger
}

// HandlersConfig wires Handlers.
type HandlersConfig struct {
	Disbursement treasury.Disbursement
	Journal      Journal
	Events       EventPublisher
	Spender      string
	Live         bool
	// Prechecks maps a refill kind to the wallet whose balance must cover
	// the amount before a live transfer is attempted.
	Prechecks map[string]SpenderCheck
	Logger    *slog.Logger
}

// NewHandlers creates Handlers. Transfers are journaled and spender
// balances pre-checked only when Live.
func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		disbursement: cfg.Disbursement,
		journal:      cfg.Journal,
		events:       cfg.Events,
		spender:      cfg.Spender,
		live:         cfg.Live,
		prechecks:    cfg.Prechecks,
		now:          time.Now,
		logger:       logger.With("component", "refill"),
	}
}

// Handle executes one refill job. A failure is returned as-is; refills are
// never retried by the queue.
func (h *Handlers) Handle(ctx context.Context, job *core.Job) ([]byte, error) {
	kind := job.Type
	alarm := "refill-failed-" + strings.TrimPrefix(kind, "refill-")

	var args core.RefillArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		h.logger.Error("refill args unreadable", "alarm", alarm, "job_id", job.ID, "error", err)
		return nil, fmt.Errorf("decode refill args: %w", err)
	}
	amount, err := decimal.NewFromString(args.Amount)
	if err != nil {
		h.logger.Error("refill amount unreadable", "alarm", alarm, "job_id", job.ID, "amount", args.Amount)
		return nil, fmt.Errorf("decode refill amount: %w", err)
	}

	if h.live {
		if err := h.checkSpender(ctx, kind, amount); err != nil {
			return nil, h.failed(job, kind, alarm, args, err)
		}
	}

	// A live transfer is journaled as submitted before the signer is asked,
	// so an ambiguous outcome still reads as pending to the next cycle.
	transfer := core.Transfer{
		ID:          job.ID,
		Kind:        kind,
		Spender:     h.spender,
		Destination: args.Destination,
		Amount:      args.Amount,
		Status:      core.TransferSubmitted,
		SubmittedAt: h.now().UTC(),
	}
	journaled := h.live && h.journal != nil
	if journaled {
		if err := h.journal.Record(ctx, transfer); err != nil {
			return nil, h.failed(job, kind, alarm, args, fmt.Errorf("journal transfer before send: %w", err))
		}
	}

	receipt, err := h.disbursement.Transfer(ctx, job.ID, kind, args.Destination, amount)
	if err != nil {
		return nil, h.failed(job, kind, alarm, args, err)
	}

	if journaled {
		transfer.Reference = receipt.TransferID
		if receipt.Status != core.TransferUnknown {
			transfer.Status = receipt.Status
		}
		if err := h.journal.Record(ctx, transfer); err != nil {
			h.logger.Error("journaling transfer receipt", "alarm", alarm, "transfer_id", receipt.TransferID, "error", err)
		}
	}

	metrics.RefillsExecuted.WithLabelValues(kind, "submitted").Inc()
	h.logger.Info("refill submitted",
		"kind", kind,
		"destination", args.Destination,
		"amount", args.Amount,
		"transfer_id", receipt.TransferID,
		"live", h.live,
	)
	h.publish(EventRefillSubmitted, map[string]any{"job_id": job.ID, "kind": kind, "transfer_id": receipt.TransferID})

	return json.Marshal(receipt)
}

// checkSpender refuses a transfer the paying wallet cannot cover.
func (h *Handlers) checkSpender(ctx context.Context, kind string, amount decimal.Decimal) error {
	check, ok := h.prechecks[kind]
	if !ok || check.Probe == nil {
		return nil
	}
	balance, err := check.Probe.Balance(ctx, check.Address)
	if err != nil {
		return fmt.Errorf("read spender balance of %s: %w", check.Address, err)
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("spender %s holds %s, short of %s", check.Address, balance, amount)
	}
	return nil
}

func (h *Handlers) failed(job *core.Job, kind, alarm string, args core.RefillArgs, err error) error {
	metrics.RefillsExecuted.WithLabelValues(kind, "failed").Inc()
	h.logger.Error("refill failed",
		"alarm", alarm,
		"kind", kind,
		"destination", args.Destination,
		"amount", args.Amount,
		"error", err,
	)
	h.publish(EventRefillFailed, map[string]any{"job_id": job.ID, "kind": kind, "destination": args.Destination, "error": err.Error()})
	return err
}

// Registrar accepts job handlers by type.
type Registrar interface {
	Register(jobType string, h worker.Handler)
}

// Register binds Handle to every refill kind.
func (h *Handlers) Register(r Registrar) {
	for _, kind := range core.RefillKinds {
		r.Register(kind, h.Handle)
	}
}

func (h *Handlers) publish(eventType string, data map[string]any) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(eventType, data); err != nil {
		h.logger.Warn("publishing event", "type", eventType, "error", err)
	}
}
