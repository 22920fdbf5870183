// Package users holds the marketplace account records. Authentication lives
// in auth; this package is the durable side: who an account is and which
// on-ledger wallet it controls.
package users

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"carbon-bridge/marketplace-backend/internal/auth"
)

// User is one marketplace account. WalletAddress is the account's on-ledger
// public key; the service never stores the matching secret.
type User struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email         string    `gorm:"uniqueIndex;not null" json:"email"`
	WalletAddress string    `gorm:"uniqueIndex;not null" json:"wallet_address"`
	Role          auth.Role `gorm:"not null;default:'USER'" json:"role"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
