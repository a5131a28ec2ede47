package core

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	ErrCodeConfiguration  = "configuration_error"
	ErrCodeProbe          = "probe_error"
	ErrCodeDispatch       = "dispatch_error"
	ErrCodeAggregation    = "aggregation_error"
	ErrCodeLedgerQuery    = "ledger_query_error"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeInternalError  = "internal_error"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Err       error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is, or wraps, an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// NewConfigurationError reports a missing or invalid setting detected at startup.
func NewConfigurationError(message string, details map[string]any) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: message, Details: details}
}

// NewProbeError wraps a balance fetch failure.
func NewProbeError(kind string, err error) *Error {
	return &Error{
		Code:      ErrCodeProbe,
		Message:   fmt.Sprintf("Probe '%s' failed.", kind),
		Retryable: true,
		Details:   map[string]any{"kind": kind},
		Err:       err,
	}
}

// NewDispatchError wraps a failure to enqueue a refill or trigger job.
func NewDispatchError(jobType string, err error) *Error {
	return &Error{
		Code:      ErrCodeDispatch,
		Message:   fmt.Sprintf("Failed to enqueue '%s'.", jobType),
		Retryable: true,
		Details:   map[string]any{"type": jobType},
		Err:       err,
	}
}

// NewAggregationError wraps a failure while merging or persisting child outputs.
func NewAggregationError(cycleID string, err error) *Error {
	return &Error{
		Code:    ErrCodeAggregation,
		Message: fmt.Sprintf("Aggregation of cycle '%s' failed.", cycleID),
		Details: map[string]any{"cycle_id": cycleID},
		Err:     err,
	}
}

// NewLedgerQueryError wraps a failed pending-transfer lookup.
func NewLedgerQueryError(destination string, err error) *Error {
	return &Error{
		Code:      ErrCodeLedgerQuery,
		Message:   fmt.Sprintf("Ledger query for '%s' failed.", destination),
		Retryable: true,
		Details:   map[string]any{"destination": destination},
		Err:       err,
	}
}

// NewNotFoundError creates a not_found error.
func NewNotFoundError(resourceType, resourceID string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, details map[string]any) *Error {
	return &Error{Code: ErrCodeConflict, Message: message, Details: details}
}

// NewInvalidRequestError creates an invalid_request error.
func NewInvalidRequestError(message string, details map[string]any) *Error {
	return &Error{Code: ErrCodeInvalidRequest, Message: message, Details: details}
}

// NewInternalError creates a retryable internal error.
func NewInternalError(message string) *Error {
	return &Error{Code: ErrCodeInternalError, Message: message, Retryable: true}
}
