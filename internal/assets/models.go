package assets

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Asset is a minted token series tied to one project and vintage year. The
// sold and reserved counters are mutated only through the repository's
// conditional updates; their sum never exceeds total supply.
type Asset struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID   uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	VintageYear int       `gorm:"not null;index" json:"vintage_year"`

	// Deterministic code derived from project identifier and vintage year,
	// underscore-mapped for Soroban Symbol compatibility
	AssetCode string `gorm:"uniqueIndex;not null" json:"asset_code"`

	// Issuer-controlled holding account that received the minted supply
	IssuerAddress string `gorm:"not null" json:"issuer_address"`

	// Set exactly once, at mint time
	ContractID *string `gorm:"index" json:"contract_id"`

	Frozen bool `gorm:"not null;default:false" json:"frozen"`

	// Fixed-point amounts in stroops (10^7 per unit); total supply is
	// immutable after mint
	TotalSupplyStroops  int64  `gorm:"not null" json:"total_supply_stroops"`
	PricePerUnitStroops *int64 `json:"price_per_unit_stroops"`
	SoldStroops         int64  `gorm:"not null;default:0" json:"sold_stroops"`
	ReservedStroops     int64  `gorm:"not null;default:0" json:"reserved_stroops"`

	// The MINTED tokenization request this asset originated from
	OriginRequestID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"origin_request_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RemainingStroops is the supply still available for reservation.
func (a *Asset) RemainingStroops() int64 {
	return a.TotalSupplyStroops - a.SoldStroops - a.ReservedStroops
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
