package redeem

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/redeem/activation"
	"github.com/xraph/redeem/gateway"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("redeem: not found")
	ErrAlreadyExists = errors.New("redeem: already exists")
	ErrInvalidInput  = errors.New("redeem: invalid input")

	// Not-found errors
	ErrOrderNotFound   = errors.New("redeem: order not found")
	ErrSessionNotFound = errors.New("redeem: session not found")
	ErrProductNotFound = errors.New("redeem: product not found")

	// Conflict errors
	ErrVersionConflict    = errors.New("redeem: concurrent modification")
	ErrInvalidTransition  = errors.New("redeem: invalid order status transition")
	ErrOrderNotPending    = errors.New("redeem: order is not pending payment")
	ErrProductInactive    = errors.New("redeem: product is not available")
	ErrCreditConflict     = errors.New("redeem: customer already holds credit from another order")
	ErrNoCredit           = errors.New("redeem: no credit available")
	ErrInsufficientCredit = errors.New("redeem: credit does not cover product price")
	ErrWrongState         = errors.New("redeem: action not allowed in current session state")
	ErrSilenced           = errors.New("redeem: customer is waiting for an activation")
	ErrNoPendingOrder     = errors.New("redeem: no pending order")
	ErrDegradedOrder      = errors.New("redeem: order has a placeholder payment code and needs manual approval")

	// Transient upstream errors
	ErrGatewayTimeout    = errors.New("redeem: payment gateway timed out")
	ErrActivationTimeout = errors.New("redeem: activation provider timed out")
	ErrStoreNotReady     = errors.New("redeem: store not ready")

	// Ledger inconsistency
	ErrLedgerInconsistency = errors.New("redeem: order and session credit disagree")
	ErrNeedsReview         = errors.New("redeem: customer flagged for manual review")

	// Activation errors
	ErrActivationFailed = errors.New("redeem: activation failed")

	// Store errors
	ErrStoreClosed     = errors.New("redeem: store is closed")
	ErrMigrationFailed = errors.New("redeem: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("redeem: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "redeem: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("redeem: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns e when it holds errors and nil otherwise.
func (e MultiError) ErrOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, activation.ErrProviderNotFound)
}

// IsConflict returns true if the request no longer matches the stored state.
// Conflicts are reported to the customer, never retried blindly.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOrderNotPending) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrCreditConflict) ||
		errors.Is(err, ErrNoCredit) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrWrongState) ||
		errors.Is(err, ErrSilenced) ||
		errors.Is(err, ErrNoPendingOrder) ||
		errors.Is(err, ErrDegradedOrder) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsTransient returns true if the error is temporary and the next scheduler
// tick will retry it.
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayTimeout) ||
		errors.Is(err, ErrActivationTimeout) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, gateway.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsInconsistency returns true if automatic processing for the customer must
// stop until an operator reconciles it.
func IsInconsistency(err error) bool {
	return errors.Is(err, ErrLedgerInconsistency) ||
		errors.Is(err, ErrNeedsReview)
}

// IsActivationFailure returns true if the provider reported a failure.
func IsActivationFailure(err error) bool {
	return errors.Is(err, ErrActivationFailed)
}
