package repository

import (
	"context"

	"mealsub/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create 写入待投递消息，应与业务数据使用同一个事务
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure 发送失败时累加重试次数，达到上限后标记为失败，不再投递
func (r *OutboxRepository) RecordFailure(ctx context.Context, msg *model.OutboxMessage, maxRetry int) (bool, error) {
	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
	}
	exhausted := msg.RetryCount+1 >= maxRetry
	if exhausted {
		updates["status"] = model.OutboxStatusFailed
	}
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", msg.ID).
		Updates(updates).Error
	return exhausted, err
}

func (r *OutboxRepository) ListByKey(ctx context.Context, key string) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("message_key = ?", key).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}
