package assets

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetByCode(ctx context.Context, code string) (*Asset, error)
	GetByOriginRequest(ctx context.Context, requestID uuid.UUID) (*Asset, error)
	List(ctx context.Context) ([]Asset, error)
	ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]Asset, error)
	ListMinted(ctx context.Context, issuerID uuid.UUID) ([]Asset, error)

	// Reserve atomically moves amount into the reserved counter iff remaining
	// supply covers it and the asset is not frozen. This conditional update is
	// the multi-instance safety primitive: two concurrent reservations can
	// never jointly exceed remaining supply.
	Reserve(ctx context.Context, assetID uuid.UUID, amountStroops int64) (bool, error)

	// Release returns a held reservation to remaining supply.
	Release(ctx context.Context, assetID uuid.UUID, amountStroops int64) error

	// Finalize converts a held reservation into sold supply.
	Finalize(ctx context.Context, assetID uuid.UUID, amountStroops int64) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*Asset, error) {
	var asset Asset
	err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &asset, err
}

func (r *gormRepository) GetByCode(ctx context.Context, code string) (*Asset, error) {
	var asset Asset
	err := r.db.WithContext(ctx).First(&asset, "asset_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &asset, err
}

func (r *gormRepository) GetByOriginRequest(ctx context.Context, requestID uuid.UUID) (*Asset, error) {
	var asset Asset
	err := r.db.WithContext(ctx).First(&asset, "origin_request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &asset, err
}

func (r *gormRepository) List(ctx context.Context) ([]Asset, error) {
	var list []Asset
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&list).Error
	return list, err
}

func (r *gormRepository) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]Asset, error) {
	var list []Asset
	err := r.db.WithContext(ctx).
		Joins("JOIN projects ON projects.id = assets.project_id").
		Where("projects.issuer_id = ?", issuerID).
		Order("assets.created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *gormRepository) ListMinted(ctx context.Context, issuerID uuid.UUID) ([]Asset, error) {
	var list []Asset
	err := r.db.WithContext(ctx).
		Joins("JOIN projects ON projects.id = assets.project_id").
		Where("projects.issuer_id = ? AND assets.contract_id IS NOT NULL", issuerID).
		Order("assets.created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *gormRepository) Reserve(ctx context.Context, assetID uuid.UUID, amountStroops int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&Asset{}).
		Where("id = ? AND frozen = false AND total_supply_stroops - sold_stroops - reserved_stroops >= ?",
			assetID, amountStroops).
		UpdateColumn("reserved_stroops", gorm.Expr("reserved_stroops + ?", amountStroops))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *gormRepository) Release(ctx context.Context, assetID uuid.UUID, amountStroops int64) error {
	return r.db.WithContext(ctx).Model(&Asset{}).
		Where("id = ? AND reserved_stroops >= ?", assetID, amountStroops).
		UpdateColumn("reserved_stroops", gorm.Expr("reserved_stroops - ?", amountStroops)).Error
}

func (r *gormRepository) Finalize(ctx context.Context, assetID uuid.UUID, amountStroops int64) error {
	result := r.db.WithContext(ctx).Model(&Asset{}).
		Where("id = ? AND reserved_stroops >= ?", assetID, amountStroops).
		UpdateColumns(map[string]interface{}{
			"reserved_stroops": gorm.Expr("reserved_stroops - ?", amountStroops),
			"sold_stroops":     gorm.Expr("sold_stroops + ?", amountStroops),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
