/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Outer layers (api, factory) map these to transport-level responses.

ERROR CATEGORIES:
  1. Validation errors - rejected before any write
  2. Balance errors - transfer pre-checks
  3. Integrity errors - category, account, reconciliation conflicts
  4. Store errors - missing rows, failed multi-row commands

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      var ib *ledger.InsufficientBalanceError
      errors.As(err, &ib)
      ...
  }

SEE ALSO:
  - service.go: Every command returns these errors unwrapped to the caller
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a command carries a non-positive amount
	// or misses a required field.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a transfer would drive the
	// source account negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSameAccountTransfer is returned when a transfer names the same
	// account on both legs.
	ErrSameAccountTransfer = errors.New("transfer source and destination are the same account")

	// ErrCategoryInUse is returned when deleting a user-defined category that
	// still has incomes, expenditures or liabilities filed under it.
	ErrCategoryInUse = errors.New("category in use")

	// ErrImmutableSystemCategory is returned when editing a system category.
	ErrImmutableSystemCategory = errors.New("system categories cannot be modified")

	// ErrDuplicateCategory is returned when a category name is already taken
	// for the same organization and type.
	ErrDuplicateCategory = errors.New("duplicate category")

	// ErrEntityNotFound is returned when a referenced row doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrAccountInUse is returned when deleting an account still referenced
	// by ledger entries.
	ErrAccountInUse = errors.New("account in use")

	// ErrAssetAlreadyDisposed is returned when disposing an asset twice.
	ErrAssetAlreadyDisposed = errors.New("asset already disposed")

	// ErrAlreadyReconciled is returned when an entry is already part of a
	// different reconciliation.
	ErrAlreadyReconciled = errors.New("entry already reconciled")

	// ErrCurrencyMismatch is returned when a transfer crosses currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidPeriod is returned when a budget period string is malformed.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrPartialFailure is returned when a step of a multi-row command failed
	// and the already-applied steps were reverted.
	ErrPartialFailure = errors.New("command failed and was rolled back")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: available %s, requested %s, shortfall %s",
		e.AccountID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// NotFoundError identifies the missing row.
type NotFoundError struct {
	Kind string // "account", "liability", "asset", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrEntityNotFound
}

// NotFound builds a NotFoundError. Stores use it so callers can match on
// ErrEntityNotFound regardless of backend.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// CategoryInUseError reports how many rows still reference a category.
type CategoryInUseError struct {
	Category     string
	Incomes      int
	Expenditures int
	Liabilities  int
}

func (e *CategoryInUseError) Error() string {
	return fmt.Sprintf("category %q in use by %d incomes, %d expenditures, %d liabilities",
		e.Category, e.Incomes, e.Expenditures, e.Liabilities)
}

func (e *CategoryInUseError) Unwrap() error {
	return ErrCategoryInUse
}

// PartialFailureError wraps the step that failed inside a multi-row command.
// The cause stays reachable through errors.Is/As.
type PartialFailureError struct {
	Step string
	Err  error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %v (rolled back)", e.Step, e.Err)
}

func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSameAccountTransfer) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrCurrencyMismatch)
}

// IsConflict returns true if the command is valid but collides with the
// current ledger state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCategoryInUse) ||
		errors.Is(err, ErrImmutableSystemCategory) ||
		errors.Is(err, ErrDuplicateCategory) ||
		errors.Is(err, ErrAccountInUse) ||
		errors.Is(err, ErrAssetAlreadyDisposed) ||
		errors.Is(err, ErrAlreadyReconciled)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}
