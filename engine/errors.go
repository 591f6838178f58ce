/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Collaborating layers (api, command handlers) should branch with
  errors.Is/errors.As, never by string matching.

ERROR CATEGORIES:
  1. Precondition failures - Rejected, surfaced, never retried
     (insufficient funds, out of stock, invalid transition)
  2. Conflict - Concurrent writers collided; safe to retry the whole
     operation. The Aggregate Maintainer absorbs a bounded number.
  3. Storage - The durable write itself failed; fatal to the operation.

PROPAGATION POLICY:
  Every failure path leaves the ledger and its aggregate mutually
  consistent: both reflect the operation, or neither does. No error is
  resolved by dropping a ledger entry or an aggregate update.

SEE ALSO:
  - maintainer.go: Retry policy for ErrConflict
  - store/sqlite: Maps driver errors onto these sentinels
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when a submission state change is not
	// an edge of the lifecycle graph. Rejected, not retried.
	ErrInvalidTransition = errors.New("invalid submission transition")

	// ErrInsufficientFunds is returned when a deduction would take a balance
	// below zero and the category does not permit negative balances.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOutOfStock is returned when a purchase exceeds remaining stock.
	ErrOutOfStock = errors.New("out of stock")

	// ErrConflict is returned when a concurrent writer invalidated an
	// optimistic precondition. The whole operation is safe to retry.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrStorage is returned when the durable write itself fails.
	ErrStorage = errors.New("storage failure")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when a deactivated account attempts a
	// user-initiated operation such as a purchase.
	ErrAccountInactive = errors.New("account deactivated")

	// ErrSubmissionNotFound is returned when a referenced submission doesn't exist.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrTileNotFound is returned when no progress row exists for (team, tile).
	ErrTileNotFound = errors.New("tile progress not found")

	// ErrItemNotFound is returned when a referenced shop item doesn't exist
	// or is inactive.
	ErrItemNotFound = errors.New("shop item not found")

	// ErrEntryNotFound is returned by the privileged repair path when the
	// entry slated for removal doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports a failed balance precondition.
type InsufficientFundsError struct {
	Account   AccountID
	Available int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: available %d, required %d",
		e.Account, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// OutOfStockError reports a failed stock precondition.
type OutOfStockError struct {
	ItemID    string
	Available int64
	Requested int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("item %s out of stock: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// InvalidTransitionError reports a submission state change that is not an
// edge of the lifecycle graph.
type InvalidTransitionError struct {
	Submission SubmissionID
	From       SubmissionStatus
	To         SubmissionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("submission %d: cannot transition %s -> %s",
		e.Submission, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// StorageError wraps a driver-level failure with the failing operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid caller input
// rather than an engine or storage fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAccountInactive)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSubmissionNotFound) ||
		errors.Is(err, ErrTileNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}
