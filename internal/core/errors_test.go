package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: ErrCodeNotFound, Message: "Cycle 'abc' not found."}
	want := "[not_found] Cycle 'abc' not found."
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("rpc timeout")
	err := NewProbeError("facilitator-operator-eth", cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should reach the wrapped cause")
	}
	if !err.Retryable {
		t.Error("probe errors should be retryable")
	}
	if err.Details["kind"] != "facilitator-operator-eth" {
		t.Errorf("Details[kind] = %v", err.Details["kind"])
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("enqueue: %w", NewDispatchError(RefillNative, errors.New("nats down")))
	if !HasCode(err, ErrCodeDispatch) {
		t.Error("HasCode should see through fmt wrapping")
	}
	if HasCode(err, ErrCodeAggregation) {
		t.Error("HasCode matched the wrong code")
	}
	if HasCode(errors.New("plain"), ErrCodeDispatch) {
		t.Error("HasCode matched a plain error")
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Cycle", "123")
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeNotFound)
	}
	if err.Details["resource_id"] != "123" {
		t.Errorf("Details[resource_id] = %v, want %q", err.Details["resource_id"], "123")
	}
}

func TestThresholdPolicy_Validate(t *testing.T) {
	ok := ThresholdPolicy{Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(500)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	equal := ThresholdPolicy{Min: decimal.NewFromInt(5), Max: decimal.NewFromInt(5)}
	if err := equal.Validate(); err != nil {
		t.Fatalf("Validate(min == max) error = %v", err)
	}

	bad := ThresholdPolicy{Min: decimal.NewFromInt(600), Max: decimal.NewFromInt(500)}
	err := bad.Validate()
	if !HasCode(err, ErrCodeConfiguration) {
		t.Fatalf("Validate(min > max) = %v, want configuration_error", err)
	}
}
