package checks

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/flow"
	"github.com/openjobspec/ojs-operator-checks/internal/metrics"
	"github.com/openjobspec/ojs-operator-checks/internal/policy"
	"github.com/openjobspec/ojs-operator-checks/internal/probe"
)

// PendingGuard reports whether a refill to a destination is still in flight.
type PendingGuard interface {
	HasPendingRefill(ctx context.Context, destination string) bool
}

// RefillRequester enqueues a refill.
type RefillRequester interface {
	RequestRefill(ctx context.Context, kind, destination string, amount decimal.Decimal) error
}

// Deps are the collaborators shared by every runner.
type Deps struct {
	// Probes maps a probe type (native, erc20, turbo) to its implementation.
	// A missing entry disables every target using that type.
	Probes map[string]probe.Probe
	Guard  PendingGuard
	Refill RefillRequester
	Logger *slog.Logger
}

// Runner executes one check definition. It implements flow.Check.
type Runner struct {
	name    string
	targets []boundTarget
	guard   PendingGuard
	refill  RefillRequester
	logger  *slog.Logger
}

type boundTarget struct {
	Target
	probe probe.Probe
}

var _ flow.Check = (*Runner)(nil)

// NewRunners binds definitions to probes. Targets whose probe or address is
// missing are logged and skipped; the rest of the check still runs.
func NewRunners(defs []Definition, deps Deps) []flow.Check {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "checks")

	runners := make([]flow.Check, 0, len(defs))
	for _, def := range defs {
		r := &Runner{
			name:   def.Name,
			guard:  deps.Guard,
			refill: deps.Refill,
			logger: logger.With("check", def.Name),
		}
		for _, t := range def.Targets {
			p := deps.Probes[t.Probe]
			switch {
			case p == nil:
				r.logger.Error("probe not configured, skipping target",
					"error", core.NewConfigurationError("Probe not configured.", map[string]any{"kind": t.Kind, "probe": t.Probe}))
				continue
			case t.Address == "":
				r.logger.Error("address missing, skipping target",
					"error", core.NewConfigurationError("Target address missing.", map[string]any{"kind": t.Kind}))
				continue
			}
			r.targets = append(r.targets, boundTarget{Target: t, probe: p})
		}
		runners = append(runners, r)
	}
	return runners
}

// Name returns the check name.
func (r *Runner) Name() string { return r.name }

// Run probes every target in order and returns one result per target.
func (r *Runner) Run(ctx context.Context, stamp int64) ([]core.ProbeResult, error) {
	results := make([]core.ProbeResult, 0, len(r.targets))
	for _, t := range r.targets {
		results = append(results, r.runTarget(ctx, stamp, t))
	}
	return results, nil
}

func (r *Runner) runTarget(ctx context.Context, stamp int64, t boundTarget) core.ProbeResult {
	logger := r.logger.With("kind", t.Kind, "address", t.Address)
	result := core.ProbeResult{Stamp: stamp, Kind: t.Kind, Address: t.Address}

	balance, err := t.probe.Balance(ctx, t.Address)
	if err != nil {
		metrics.ProbeErrors.WithLabelValues(t.Kind).Inc()
		logger.Error("balance fetch failed", "error", core.NewProbeError(t.Kind, err))
		result.Amount = decimal.Zero.String()
		return result
	}
	result.Amount = balance.String()

	decision := policy.Evaluate(balance, t.Policy)
	metrics.ProbeResults.WithLabelValues(t.Kind, string(decision.Action)).Inc()

	switch decision.Action {
	case policy.ActionDeplete:
		amount := *decision.RequestAmount
		result.RequestAmount = amount.String()
		logger.Warn("balance depletion",
			"balance", balance.String(),
			"min", t.Policy.Min.String(),
			"request_amount", amount.String(),
		)
		r.requestRefill(ctx, logger, t, amount)
	case policy.ActionAccumulate:
		logger.Warn("balance accumulation",
			"alarm", "balance-accumulation-"+t.Kind,
			"balance", balance.String(),
			"max", t.Policy.Max.String(),
		)
	default:
		logger.Debug("balance within band", "balance", balance.String())
	}
	return result
}

func (r *Runner) requestRefill(ctx context.Context, logger *slog.Logger, t boundTarget, amount decimal.Decimal) {
	if t.Refill == "" || r.refill == nil {
		return
	}
	if r.guard != nil && r.guard.HasPendingRefill(ctx, t.Address) {
		metrics.RefillsSuppressed.WithLabelValues(t.Refill).Inc()
		logger.Info("refill skipped, prior transfer pending")
		return
	}
	if err := r.refill.RequestRefill(ctx, t.Refill, t.Address, amount); err != nil {
		logger.Error("refill request failed",
			"alarm", "refill-dispatch-failed-"+strings.TrimPrefix(t.Refill, "refill-"),
			"error", err,
		)
	}
}
