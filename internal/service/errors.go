// Package service provides the business logic for the stake settlement core:
// the screen-time ledger, the reset scheduler, and the wager, penalty and
// unlock-request engines.
package service

import "errors"

// Common errors shared across the engines.
var (
	// ErrInvalidState means the operation is not valid for the entity's
	// current lifecycle state.
	ErrInvalidState = errors.New("operation invalid for current state")

	// ErrUnauthorized means the actor is not the participant, approver or
	// creator the operation requires.
	ErrUnauthorized = errors.New("actor not authorized for this operation")

	// ErrRetryExhausted is a transient failure: every optimistic-write
	// attempt hit a concurrent writer. Callers may retry the operation.
	ErrRetryExhausted = errors.New("budget write conflict: retries exhausted")
)

// IsRetryable reports whether the error is transient and the whole
// operation can be safely retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}
