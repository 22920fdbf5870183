// Package swap coordinates atomic swaps: a buyer's native payment in exchange
// for delegated transfer of an issuer's tokens. The coordinator owns the saga
// end to end; no phase transition is ever driven by a caller-supplied state.
package swap

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Phase of a swap attempt. One-directional; COMPLETED, FAILED_CLEAN and
// FAILED_REFUND_REQUIRED are terminal.
type Phase string

const (
	// PhaseReserved: supply is held, no payment instruction issued yet.
	PhaseReserved Phase = "RESERVED"

	// PhasePaymentPending: the buyer holds an unsigned payment envelope; the
	// coordinator is waiting to observe the settled payment.
	PhasePaymentPending Phase = "PAYMENT_PENDING"

	// PhasePaymentConfirmed: the buyer's payment is final on the ledger.
	PhasePaymentConfirmed Phase = "PAYMENT_CONFIRMED"

	// PhaseTransferPending: the delegated token transfer is in flight.
	PhaseTransferPending Phase = "TRANSFER_PENDING"

	// PhaseCompleted: tokens delivered, supply finalized, seller paid.
	PhaseCompleted Phase = "COMPLETED"

	// PhaseFailedRefundRequired: payment confirmed but tokens not delivered.
	// The reservation stays held and the buyer's funds sit with the
	// intermediary until refund tooling resolves the attempt.
	PhaseFailedRefundRequired Phase = "FAILED_REFUND_REQUIRED"

	// PhaseFailedClean: nothing of value moved; the reservation was returned.
	PhaseFailedClean Phase = "FAILED_CLEAN"
)

// SwapAttempt is the durable saga record for one buyer/asset exchange. The
// token amount is computed once, at reservation time, and never recomputed
// even if the asset price changes before completion.
type SwapAttempt struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AssetID uuid.UUID `gorm:"type:uuid;not null;index" json:"asset_id"`

	BuyerAddress string `gorm:"not null;index" json:"buyer_address"`

	// Native payment expected from the buyer, in stroops
	PaymentStroops int64 `gorm:"not null" json:"payment_stroops"`

	// Token amount fixed at reservation time, in stroops
	TokenStroops int64 `gorm:"not null" json:"token_stroops"`

	Phase Phase `gorm:"not null;index" json:"phase"`

	// Reservation deadline; only pre-confirmation phases expire
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`

	PaymentTxHash  *string `json:"payment_tx_hash"`
	TransferTxHash *string `json:"transfer_tx_hash"`
	PayoutTxHash   *string `json:"payout_tx_hash"`

	FailureDetail *string `json:"failure_detail"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *SwapAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Open reports whether the attempt can still advance.
func (a *SwapAttempt) Open() bool {
	switch a.Phase {
	case PhaseCompleted, PhaseFailedRefundRequired, PhaseFailedClean:
		return false
	}
	return true
}
