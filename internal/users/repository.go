package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByWallet(ctx context.Context, wallet string) (*User, error)

	// WalletAddress resolves the on-ledger account of a user; implements the
	// deployment orchestrator's issuer directory.
	WalletAddress(ctx context.Context, id uuid.UUID) (string, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &user, err
}

func (r *gormRepository) GetByWallet(ctx context.Context, wallet string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "wallet_address = ?", wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &user, err
}

func (r *gormRepository) WalletAddress(ctx context.Context, id uuid.UUID) (string, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", &apperrors.ValidationError{Field: "issuer_id", Reason: "user not found"}
	}
	return user.WalletAddress, nil
}
