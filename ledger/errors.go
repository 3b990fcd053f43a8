/*
errors.go - Error taxonomy for the deposit and refund ledgers

PURPOSE:
  All error types in one place. Every error the engine returns maps to
  exactly one Kind:

    InvalidArgument  caller input is wrong; never retried automatically
    NotFound         a referenced room/property/deposit/refund is missing
    Conflict         the ledger state forbids the operation
    StorageFailure   the transaction failed; nothing was committed

  Structured errors carry the numeric context (target, prior sum, attempted
  amount) so a caller can correct the request without another query.

USAGE:
  if errors.Is(err, ledger.ErrConflict) { ... }

  var exceeds *ledger.RefundExceedsBalanceError
  if errors.As(err, &exceeds) {
      retryWith(exceeds.MaxAllowed)
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// KINDS
// =============================================================================

type Kind string

const (
	KindInvalidArgument Kind = "InvalidArgument"
	KindNotFound        Kind = "NotFound"
	KindConflict        Kind = "Conflict"
	KindStorageFailure  Kind = "StorageFailure"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrStorage         = errors.New("storage failure")
)

// KindOf classifies err. Errors the engine did not produce are storage
// failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindStorageFailure
	}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidArgumentError is a plain input validation failure.
type InvalidArgumentError struct {
	Field   string
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

func invalid(field, format string, args ...any) error {
	return &InvalidArgumentError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string // "room", "property", "customer", "deposit", "refund"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError is a state conflict that is not a refund lock.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// RefundCompletedError is returned when a contract was already fully refunded.
type RefundCompletedError struct {
	ContractID        string
	CompletedRefundID string
}

func (e *RefundCompletedError) Error() string {
	return fmt.Sprintf("contract %q is already fully refunded (refund %s)", e.ContractID, e.CompletedRefundID)
}

func (e *RefundCompletedError) Unwrap() error { return ErrConflict }

// RefundExceedsBalanceError is returned when a refund would push the
// remaining balance below zero.
type RefundExceedsBalanceError struct {
	ContractID         string
	TotalDepositAmount Won
	PriorRefunded      Won
	Requested          Won
	MaxAllowed         Won
}

func (e *RefundExceedsBalanceError) Error() string {
	return fmt.Sprintf("refund exceeds remaining balance: total deposit %v, already refunded %v, requested %v, max allowed %v",
		e.TotalDepositAmount, e.PriorRefunded, e.Requested, e.MaxAllowed)
}

func (e *RefundExceedsBalanceError) Unwrap() error { return ErrInvalidArgument }

// LineItemMismatchError is returned when line items do not add up.
type LineItemMismatchError struct {
	RefundAmount Won
	LineItemSum  Won
}

func (e *LineItemMismatchError) Error() string {
	return fmt.Sprintf("line items sum to %v but refund amount is %v", e.LineItemSum, e.RefundAmount)
}

func (e *LineItemMismatchError) Unwrap() error { return ErrInvalidArgument }

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the driver error.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// wrapStorage leaves engine errors alone and tags everything else.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindStorageFailure || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the request.
func IsClientError(err error) bool {
	k := KindOf(err)
	return k == KindInvalidArgument || k == KindNotFound || k == KindConflict
}
