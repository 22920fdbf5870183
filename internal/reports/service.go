// Package reports produces admin exports over settled marketplace activity.
package reports

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SaleRow is one completed swap, flattened for export.
type SaleRow struct {
	AttemptID      string    `gorm:"column:attempt_id"`
	AssetCode      string    `gorm:"column:asset_code"`
	VintageYear    int       `gorm:"column:vintage_year"`
	BuyerAddress   string    `gorm:"column:buyer_address"`
	TokenStroops   int64     `gorm:"column:token_stroops"`
	PaymentStroops int64     `gorm:"column:payment_stroops"`
	TransferTxHash string    `gorm:"column:transfer_tx_hash"`
	CompletedAt    time.Time `gorm:"column:completed_at"`
}

type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Sales returns every completed swap in the window, newest first.
func (s *Service) Sales(ctx context.Context, from, to time.Time) ([]SaleRow, error) {
	var rows []SaleRow
	err := s.db.WithContext(ctx).
		Table("swap_attempts").
		Select(`swap_attempts.id AS attempt_id,
			assets.asset_code,
			assets.vintage_year,
			swap_attempts.buyer_address,
			swap_attempts.token_stroops,
			swap_attempts.payment_stroops,
			COALESCE(swap_attempts.transfer_tx_hash, '') AS transfer_tx_hash,
			swap_attempts.updated_at AS completed_at`).
		Joins("JOIN assets ON assets.id = swap_attempts.asset_id").
		Where("swap_attempts.phase = ?", "COMPLETED").
		Where("swap_attempts.updated_at BETWEEN ? AND ?", from, to).
		Order("swap_attempts.updated_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
