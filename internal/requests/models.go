package requests

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenizationRequest is an issuer's application to mint a new token series.
// Status moves one way only: PENDING -> APPROVED|REJECTED, APPROVED -> MINTED.
// MINTED is never set by an admin directly; it is the effect of a successful
// contract deployment.
type TokenizationRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	IssuerID  uuid.UUID `gorm:"type:uuid;not null;index" json:"issuer_id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`

	VintageYear int `gorm:"not null" json:"vintage_year"`

	// Fixed-point amounts carried as stroops (10^7 per unit)
	QuantityStroops     int64  `gorm:"not null" json:"quantity_stroops"`
	PricePerUnitStroops *int64 `json:"price_per_unit_stroops"`

	SerialNumberStart *string `json:"serial_number_start"`
	SerialNumberEnd   *string `json:"serial_number_end"`

	// Reference to the proof document stored by the document service
	ProofDocumentRef string `gorm:"not null" json:"proof_document_ref"`

	Status    RequestStatus `gorm:"not null;default:'PENDING';index" json:"status"`
	AdminNote *string       `json:"admin_note"`

	// Set when deployment succeeds
	ContractID *string `json:"contract_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequestStatus is the tokenization-request lifecycle status.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
	StatusMinted   RequestStatus = "MINTED"
)

// ReviewDecision is an admin's verdict on a PENDING request.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "APPROVE"
	DecisionReject  ReviewDecision = "REJECT"
)

func (r *TokenizationRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
