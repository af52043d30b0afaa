package repository

import (
	"context"
	"time"

	"mealsub/internal/model"

	"gorm.io/gorm"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *model.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// MarkProcessed 记录处理结果，processingErr 为空表示处理成功
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64, processingErr string) error {
	if r := []rune(processingErr); len(r) > 512 {
		processingErr = string(r[:512])
	}
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": processingErr,
		}).Error
}

func (r *WebhookEventRepository) ListByOrderID(ctx context.Context, orderID string) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}
