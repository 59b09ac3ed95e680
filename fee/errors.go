/*
errors.go - Centralized error types for the fee engine

ERROR CATEGORIES:
  1. Pricing errors - configuration that cannot produce a schedule
  2. Posting errors - ledger accounts missing, unbalanced transactions
  3. Allocation warnings - replay produced more paid than scheduled
  4. Lookup errors - subject / receipt / transaction not found

USAGE:
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types when they need the details:

    if errors.Is(err, fee.ErrMissingLedgerAccount) {
        // record was saved, posting skipped
    }
*/
package fee

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidPricingConfig    = errors.New("invalid pricing config")
	ErrMissingLedgerAccount    = errors.New("missing ledger account")
	ErrAllocationInconsistency = errors.New("allocation inconsistency")
	ErrUnbalancedTransaction   = errors.New("unbalanced ledger transaction")
	ErrInvalidReceipt          = errors.New("invalid receipt")

	ErrSubjectNotFound     = errors.New("subject not found")
	ErrReceiptNotFound     = errors.New("receipt not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNoFeeType is returned by Refresh for subjects without a fee type;
	// bulk refresh counts them as skipped.
	ErrNoFeeType = errors.New("subject has no fee type")

	// ErrLockUnavailable is returned when a subject lock cannot be acquired
	// before the context ends.
	ErrLockUnavailable = errors.New("subject lock unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type InvalidPricingConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidPricingConfigError) Error() string {
	return fmt.Sprintf("invalid pricing config: %s: %s", e.Field, e.Reason)
}

func (e *InvalidPricingConfigError) Unwrap() error { return ErrInvalidPricingConfig }

type MissingLedgerAccountError struct {
	SubjectID SubjectID
	Scope     string
	Role      AccountRole
}

func (e *MissingLedgerAccountError) Error() string {
	if e.SubjectID != "" {
		return fmt.Sprintf("missing ledger account: subject %s has no %s account", e.SubjectID, e.Role)
	}
	return fmt.Sprintf("missing ledger account: %s account for scope %q", e.Role, e.Scope)
}

func (e *MissingLedgerAccountError) Unwrap() error { return ErrMissingLedgerAccount }

// AllocationInconsistencyError is a warning: overpayment is a legitimate
// business state, so callers log it instead of failing.
type AllocationInconsistencyError struct {
	SubjectID SubjectID
	Allocated Money
	Scheduled Money
}

func (e *AllocationInconsistencyError) Error() string {
	return fmt.Sprintf("allocation inconsistency: allocated %s exceeds scheduled %s", e.Allocated, e.Scheduled)
}

func (e *AllocationInconsistencyError) Unwrap() error { return ErrAllocationInconsistency }

type UnbalancedTransactionError struct {
	TransactionID TransactionID
	Debits        Money
	Credits       Money
	Reason        string
}

func (e *UnbalancedTransactionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unbalanced ledger transaction %s: %s", e.TransactionID, e.Reason)
	}
	return fmt.Sprintf("unbalanced ledger transaction %s: debits %s != credits %s",
		e.TransactionID, e.Debits, e.Credits)
}

func (e *UnbalancedTransactionError) Unwrap() error { return ErrUnbalancedTransaction }

type InvalidReceiptError struct {
	Reason string
	Line   int // 1-based, 0 when not line specific
}

func (e *InvalidReceiptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid receipt: line %d: %s", e.Line, e.Reason)
	}
	return "invalid receipt: " + e.Reason
}

func (e *InvalidReceiptError) Unwrap() error { return ErrInvalidReceipt }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPricingConfig) ||
		errors.Is(err, ErrInvalidReceipt) ||
		errors.Is(err, ErrNoFeeType)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubjectNotFound) ||
		errors.Is(err, ErrReceiptNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
