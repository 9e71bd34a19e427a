/**
 * @description
 * This file defines the error taxonomy shared across the engine. Validation,
 * state, and policy errors abort the calling operation before any state
 * mutation; integrity errors classify audit findings on data that is still
 * persisted; integration failures are always caught and logged by the
 * component that triggered the hook, never returned to the caller.
 */

package domain

import (
	"errors"
	"fmt"
)

// Validation errors: bad input, rejected before any mutation.
var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrUnsupportedCurrency = errors.New("unsupported currency code")
	ErrUnsupportedMethod   = errors.New("unsupported method")
	ErrMissingDestination  = errors.New("payout destination details are required")
	ErrInvalidSplit        = errors.New("revenue split percentages are invalid")
)

// State errors: the entity is not in a state that permits the operation.
var (
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrInvalidPaymentState = errors.New("payment is not in a state that permits this operation")
)

// Policy errors: the request is well-formed but disallowed by business policy.
var (
	ErrInsufficientBalance   = errors.New("requested amount exceeds available balance")
	ErrRefundExceedsOriginal = errors.New("refund amount exceeds original payment amount")
)

// Integrity errors: data-quality alarms. These classify audit records; the
// ledger persists the row anyway and surfaces the finding as a monitoring
// signal.
var (
	ErrNegativeNetAmount   = errors.New("net amount is negative")
	ErrCalculationMismatch = errors.New("net amount does not match gross minus fees")
	ErrSplitMismatch       = errors.New("split percentages do not sum to 100")
)

// TransitionError reports a rejected status transition, carrying the
// observed and requested states. It unwraps to ErrInvalidTransition so
// callers can match with errors.Is.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s transition %s -> %s not allowed", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
