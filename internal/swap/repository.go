package swap

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, attempt *SwapAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*SwapAttempt, error)

	// FindOpen returns the newest non-terminal attempt for a buyer and asset,
	// the lookup key for completion replays. A non-nil paymentStroops narrows
	// the key to attempts for that exact payment.
	FindOpen(ctx context.Context, assetID uuid.UUID, buyer string, paymentStroops *int64) (*SwapAttempt, error)

	// FindLatest returns the newest attempt for the same key regardless of
	// phase; a completion replay that arrives after the attempt closed
	// resolves through this.
	FindLatest(ctx context.Context, assetID uuid.UUID, buyer string, paymentStroops *int64) (*SwapAttempt, error)

	// Transition advances the phase with a conditional update: the row must
	// still be in the expected phase. False means another worker won the race.
	Transition(ctx context.Context, id uuid.UUID, from, to Phase, set map[string]interface{}) (bool, error)

	// ListExpired returns attempts in pre-confirmation phases whose
	// reservation deadline has passed.
	ListExpired(ctx context.Context, now time.Time) ([]SwapAttempt, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, attempt *SwapAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*SwapAttempt, error) {
	var attempt SwapAttempt
	err := r.db.WithContext(ctx).First(&attempt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &attempt, err
}

func (r *gormRepository) FindOpen(ctx context.Context, assetID uuid.UUID, buyer string, paymentStroops *int64) (*SwapAttempt, error) {
	var attempt SwapAttempt
	query := r.db.WithContext(ctx).
		Where("asset_id = ? AND buyer_address = ? AND phase IN ?",
			assetID, buyer, []Phase{PhaseReserved, PhasePaymentPending, PhasePaymentConfirmed, PhaseTransferPending})
	if paymentStroops != nil {
		query = query.Where("payment_stroops = ?", *paymentStroops)
	}
	err := query.Order("created_at DESC").First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &attempt, err
}

func (r *gormRepository) FindLatest(ctx context.Context, assetID uuid.UUID, buyer string, paymentStroops *int64) (*SwapAttempt, error) {
	var attempt SwapAttempt
	query := r.db.WithContext(ctx).
		Where("asset_id = ? AND buyer_address = ?", assetID, buyer)
	if paymentStroops != nil {
		query = query.Where("payment_stroops = ?", *paymentStroops)
	}
	err := query.Order("created_at DESC").First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &attempt, err
}

func (r *gormRepository) Transition(ctx context.Context, id uuid.UUID, from, to Phase, set map[string]interface{}) (bool, error) {
	if set == nil {
		set = map[string]interface{}{}
	}
	set["phase"] = to
	result := r.db.WithContext(ctx).Model(&SwapAttempt{}).
		Where("id = ? AND phase = ?", id, from).
		Updates(set)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *gormRepository) ListExpired(ctx context.Context, now time.Time) ([]SwapAttempt, error) {
	var list []SwapAttempt
	err := r.db.WithContext(ctx).
		Where("phase IN ? AND expires_at < ?",
			[]Phase{PhaseReserved, PhasePaymentPending}, now).
		Order("expires_at ASC").
		Find(&list).Error
	return list, err
}
