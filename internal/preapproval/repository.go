package preapproval

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	GetByAsset(ctx context.Context, assetID uuid.UUID) (*PreApproval, error)
	ListByStatus(ctx context.Context, status Status) ([]PreApproval, error)

	// Upsert writes the grant record for an asset, replacing any prior state.
	Upsert(ctx context.Context, record *PreApproval) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByAsset(ctx context.Context, assetID uuid.UUID) (*PreApproval, error) {
	var record PreApproval
	err := r.db.WithContext(ctx).First(&record, "asset_id = ?", assetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &record, err
}

func (r *gormRepository) ListByStatus(ctx context.Context, status Status) ([]PreApproval, error) {
	var list []PreApproval
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&list).Error
	return list, err
}

func (r *gormRepository) Upsert(ctx context.Context, record *PreApproval) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "approved_amount_stroops", "error_detail", "fallback_command", "updated_at",
		}),
	}).Create(record).Error
}
