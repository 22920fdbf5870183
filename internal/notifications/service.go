package notifications

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service persists notifications and pushes them through the hub.
type Service struct {
	db     *gorm.DB
	hub    *Hub
	logger *zap.Logger
}

func NewService(db *gorm.DB, hub *Hub, logger *zap.Logger) *Service {
	return &Service{db: db, hub: hub, logger: logger}
}

// Notify stores a notification and pushes it to any open websocket. Errors
// are logged, not returned; notification failures never fail the operation
// that triggered them.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, kind, title, body string) {
	n := &Notification{UserID: userID, Kind: kind, Title: title, Body: body}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		s.logger.Error("failed to persist notification",
			zap.String("user_id", userID.String()),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}
	s.hub.Push(userID, n)
}

// List returns the user's notifications, unread first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	var out []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("read ASC, created_at DESC").
		Limit(100).
		Find(&out).Error
	return out, err
}

// MarkRead flags one notification as read; returns false when the row does
// not exist or belongs to someone else.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("read", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
