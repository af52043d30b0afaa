package repository

import (
	"context"
	"errors"
	"time"

	"mealsub/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPaymentNotFound      = errors.New("支付单不存在")
	ErrPaymentStatusInvalid = errors.New("支付单状态不合法")
	ErrPaymentStatusChanged = errors.New("支付单状态已被其他请求修改")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByOrderIDForUpdate(ctx context.Context, tx *gorm.DB, orderID string) (*model.Payment, error) {
	var payment model.Payment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// PaymentUpdate 状态变更时一并写入的网关信息，零值字段不更新
type PaymentUpdate struct {
	GatewayTransactionID string
	RawGatewayPayload    datatypes.JSON
	PaidAt               *time.Time
}

// UpdateStatus 条件更新：WHERE status = fromStatus，先到者生效
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID string, fromStatus, toStatus string, extra PaymentUpdate) error {
	if !model.CanPaymentTransitionTo(fromStatus, toStatus) {
		return ErrPaymentStatusInvalid
	}
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if extra.GatewayTransactionID != "" {
		updates["gateway_transaction_id"] = extra.GatewayTransactionID
	}
	if len(extra.RawGatewayPayload) > 0 {
		updates["raw_gateway_payload"] = extra.RawGatewayPayload
	}
	if extra.PaidAt != nil {
		updates["paid_at"] = extra.PaidAt
	}

	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("order_id = ? AND status = ?", orderID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStatusChanged
	}
	return nil
}

// ListStale 查询长时间停留在指定状态的支付单
func (r *PaymentRepository) ListStale(ctx context.Context, statuses []string, before time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// Touch 刷新更新时间，仍在等待的订单排到下一轮扫描的末尾
func (r *PaymentRepository) Touch(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("order_id = ?", orderID).
		Update("updated_at", time.Now()).Error
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payment{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}
