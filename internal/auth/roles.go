package auth

import (
	"github.com/google/uuid"

	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

// Role is the closed set of marketplace roles. Capability checks happen at
// lifecycle-transition boundaries, not scattered per endpoint.
type Role string

const (
	RoleUser   Role = "USER"
	RoleIssuer Role = "ISSUER"
	RoleAdmin  Role = "ADMIN"
)

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleIssuer, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Wallet string    `json:"wallet"`
	Role   Role      `json:"role"`
}

// RequireAdmin returns an AuthorizationError unless the actor is an admin.
func (a Actor) RequireAdmin() error {
	if a.Role != RoleAdmin {
		return &apperrors.AuthorizationError{Reason: "admin role required"}
	}
	return nil
}

// RequireIssuer returns an AuthorizationError unless the actor is an issuer.
func (a Actor) RequireIssuer() error {
	if a.Role != RoleIssuer {
		return &apperrors.AuthorizationError{Reason: "issuer role required"}
	}
	return nil
}

// RequireWallet enforces that a caller-supplied address matches the actor's
// own wallet. Buyers may only initiate swaps for themselves.
func (a Actor) RequireWallet(address string) error {
	if a.Wallet != address {
		return &apperrors.AuthorizationError{Reason: "address must match authenticated wallet"}
	}
	return nil
}
