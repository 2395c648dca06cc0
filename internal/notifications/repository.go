package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists the delivery log
type Repository interface {
	Record(ctx context.Context, n *SentNotification) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]SentNotification, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Record(ctx context.Context, n *SentNotification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

func (r *gormRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]SentNotification, error) {
	var out []SentNotification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sent_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get user notifications: %w", err)
	}
	return out, nil
}
