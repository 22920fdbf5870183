// Package preapproval tracks delegated-transfer authorizations. A swap can
// only move an issuer's tokens through the intermediary account once the
// issuer has granted the intermediary an on-ledger allowance; this package
// records where each asset stands in that grant.
package preapproval

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status of the delegated-transfer grant for one asset.
type Status string

const (
	// StatusNone: no grant attempt recorded. Represented by the absence of a
	// row; never stored.
	StatusNone Status = "NONE"

	// StatusPending: a grant is awaiting the issuer's own signature, via the
	// manual command or a configured signing service.
	StatusPending Status = "PENDING"

	// StatusActive: the on-ledger allowance covers delegated transfers.
	StatusActive Status = "ACTIVE"

	// StatusFailed: the last grant attempt was rejected by the ledger.
	StatusFailed Status = "FAILED"
)

// PreApproval is the durable record of an asset's delegation grant.
type PreApproval struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AssetID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"asset_id"`

	Status Status `gorm:"not null;index" json:"status"`

	// Allowance requested from the issuer, in stroops
	ApprovedAmountStroops int64 `gorm:"not null" json:"approved_amount_stroops"`

	// Ledger result code or transport error of the last failed attempt
	ErrorDetail *string `json:"error_detail"`

	// CLI invocation the issuer can run to grant the allowance without ever
	// sharing a key with this service
	FallbackCommand string `json:"fallback_command"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PreApproval) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
