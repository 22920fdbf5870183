// Package apperrors defines the error taxonomy shared across the marketplace
// core. Handlers translate these into HTTP statuses; services return them
// directly so callers can distinguish retryable from terminal failures.
package apperrors

import "fmt"

// ValidationError indicates malformed input. The caller can correct and retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// AuthorizationError indicates a role or identity mismatch. Not retryable.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized: %s", e.Reason)
}

// StateError indicates an illegal lifecycle transition. Not retryable.
type StateError struct {
	Entity string
	From   string
	To     string
}

func (e *StateError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("%s is in state %s, operation not allowed", e.Entity, e.From)
	}
	return fmt.Sprintf("%s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// ConflictError indicates a duplicate durable identifier, e.g. a second
// tokenization of the same project and vintage year.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists for %s", e.Resource, e.Key)
}

// NotApprovedError indicates the delegated-transfer pre-approval for an asset
// is not ACTIVE. The issuer must complete pre-approval before swaps proceed.
type NotApprovedError struct {
	AssetCode string
	Status    string
}

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("asset %s has no active transfer pre-approval (status %s)", e.AssetCode, e.Status)
}

// FrozenAssetError indicates the asset is frozen and cannot be swapped.
type FrozenAssetError struct {
	AssetCode string
}

func (e *FrozenAssetError) Error() string {
	return fmt.Sprintf("asset %s is frozen", e.AssetCode)
}

// InsufficientSupplyError indicates a reservation would exceed remaining
// supply. Retryable with a smaller amount.
type InsufficientSupplyError struct {
	AssetCode        string
	RequestedStroops int64
	RemainingStroops int64
}

func (e *InsufficientSupplyError) Error() string {
	return fmt.Sprintf("insufficient supply for %s: requested %d, remaining %d",
		e.AssetCode, e.RequestedStroops, e.RemainingStroops)
}

// PaymentNotFoundError indicates the buyer's payment was not found or not yet
// final on the ledger. Retryable by the caller once the payment settles; the
// reservation is not consumed.
type PaymentNotFoundError struct {
	Buyer         string
	AmountStroops int64
}

func (e *PaymentNotFoundError) Error() string {
	return fmt.Sprintf("no final payment of at least %d stroops from %s found on ledger",
		e.AmountStroops, e.Buyer)
}

// LedgerUnavailableError wraps transport-level failures reaching the ledger.
type LedgerUnavailableError struct {
	Op  string
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable during %s: %v", e.Op, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// LedgerRejectedError carries the ledger's native result code for a rejected
// transaction. Generally not retried blindly.
type LedgerRejectedError struct {
	Op         string
	ResultCode string
	Err        error
}

func (e *LedgerRejectedError) Error() string {
	return fmt.Sprintf("ledger rejected %s (result %s)", e.Op, e.ResultCode)
}

func (e *LedgerRejectedError) Unwrap() error { return e.Err }

// RefundRequiredError is terminal for a swap attempt: the buyer's payment was
// confirmed but the token transfer failed. The attempt is persisted as
// FAILED_REFUND_REQUIRED and must be resolved by refund tooling; it is never
// converted into a clean failure.
type RefundRequiredError struct {
	AttemptID string
	Cause     error
}

func (e *RefundRequiredError) Error() string {
	return fmt.Sprintf("payment received but token transfer failed for attempt %s: %v — refund required",
		e.AttemptID, e.Cause)
}

func (e *RefundRequiredError) Unwrap() error { return e.Cause }
