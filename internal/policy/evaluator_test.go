package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

func band(min, max string) core.ThresholdPolicy {
	return core.ThresholdPolicy{Min: decimal.RequireFromString(min), Max: decimal.RequireFromString(max)}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		policy  core.ThresholdPolicy
		action  Action
		request string
	}{
		{"below min", "80", band("100", "500"), ActionDeplete, "420"},
		{"zero balance", "0", band("100", "500"), ActionDeplete, "500"},
		{"at min", "100", band("100", "500"), ActionNone, ""},
		{"inside band", "250", band("100", "500"), ActionNone, ""},
		{"at max", "500", band("100", "500"), ActionNone, ""},
		{"above max", "500.000000000000000001", band("100", "500"), ActionAccumulate, ""},
		{"degenerate band", "4.99", band("5", "5"), ActionDeplete, "0.01"},
		{"fractional credits", "0.25", band("0.5", "2.75"), ActionDeplete, "2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(decimal.RequireFromString(tt.balance), tt.policy)
			assert.Equal(t, tt.action, got.Action)

			if tt.request == "" {
				assert.Nil(t, got.RequestAmount)
				return
			}
			require.NotNil(t, got.RequestAmount)
			assert.True(t, got.RequestAmount.Equal(decimal.RequireFromString(tt.request)),
				"request = %s, want %s", got.RequestAmount, tt.request)
		})
	}
}

func TestEvaluate_RequestNeverNegative(t *testing.T) {
	policy := band("10", "20")
	for i := int64(-5); i <= 30; i++ {
		got := Evaluate(decimal.NewFromInt(i), policy)
		if got.RequestAmount != nil {
			assert.False(t, got.RequestAmount.IsNegative(), "balance %d produced negative request", i)
		}

		inBand := i >= 10 && i <= 20
		assert.Equal(t, inBand, got.Action == ActionNone, "balance %d", i)
		assert.Equal(t, i < 10, got.Action == ActionDeplete, "balance %d", i)
		assert.Equal(t, i > 20, got.Action == ActionAccumulate, "balance %d", i)
	}
}
