// Package policy turns a measured balance into a threshold action.
package policy

import (
	"github.com/shopspring/decimal"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Action is the outcome of comparing a balance against its policy.
type Action string

const (
	ActionNone       Action = "none"
	ActionDeplete    Action = "deplete"
	ActionAccumulate Action = "accumulate"
)

// Decision is the evaluator's output. RequestAmount is set only for ActionDeplete.
type Decision struct {
	Action        Action
	RequestAmount *decimal.Decimal
}

// Evaluate compares balance against policy. Callers must pass balance and
// policy in the same unit; the function is pure.
func Evaluate(balance decimal.Decimal, policy core.ThresholdPolicy) Decision {
	switch {
	case balance.LessThan(policy.Min):
		amount := policy.Max.Sub(balance)
		return Decision{Action: ActionDeplete, RequestAmount: &amount}
	case balance.GreaterThan(policy.Max):
		return Decision{Action: ActionAccumulate}
	default:
		return Decision{Action: ActionNone}
	}
}
