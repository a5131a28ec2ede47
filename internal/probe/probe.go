// Package probe reads balances from external ledgers. Each probe returns a
// human-unit decimal; timeouts belong to the HTTP client it is built with.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// Probe fetches the balance held by an address.
type Probe interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Func adapts a function to Probe.
type Func func(ctx context.Context, address string) (decimal.Decimal, error)

// Balance calls f.
func (f Func) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	return f(ctx, address)
}

// ErrUnavailable is returned while the breaker for a probe endpoint is open.
var ErrUnavailable = errors.New("probe endpoint unavailable")

// NewBreaker builds the circuit breaker guarding one probe endpoint.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "probe-" + name,
		MaxRequests: 3,
		Interval:    2 * time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w (%s): %v", ErrUnavailable, cb.Name(), err)
		}
		return zero, err
	}
	return out.(T), nil
}

// NewHTTPClient returns the client shared by probes.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// fromBaseUnits converts an integer amount of base units into a decimal
// with the given number of decimals.
func fromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -decimals)
}

// parseHexQuantity decodes a 0x-prefixed JSON-RPC quantity.
func parseHexQuantity(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v, nil
}
