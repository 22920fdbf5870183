package projects

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project is the reference record a tokenization request points at. Project
// CRUD and map geometry live in the portal service; the marketplace core only
// reads identifier and ownership.
type Project struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Identifier  string    `gorm:"uniqueIndex;not null" json:"identifier"` // e.g. "FRST-BR-0042"
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	IssuerID    uuid.UUID `gorm:"type:uuid;not null;index" json:"issuer_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
