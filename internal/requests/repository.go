package requests

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, req *TokenizationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TokenizationRequest, error)
	ListByStatus(ctx context.Context, status RequestStatus) ([]TokenizationRequest, error)
	Update(ctx context.Context, req *TokenizationRequest) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, req *TokenizationRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*TokenizationRequest, error) {
	var req TokenizationRequest
	err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &req, err
}

func (r *gormRepository) ListByStatus(ctx context.Context, status RequestStatus) ([]TokenizationRequest, error) {
	var reqs []TokenizationRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&reqs).Error
	return reqs, err
}

func (r *gormRepository) Update(ctx context.Context, req *TokenizationRequest) error {
	return r.db.WithContext(ctx).Save(req).Error
}
