package repository

import (
	"context"
	"errors"

	"mealsub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDeliveryNotFound      = errors.New("配送记录不存在")
	ErrDeliveryStatusInvalid = errors.New("配送状态不合法")
)

type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// CreateBatch 批量插入同一批次的配送记录
func (r *DeliveryRepository) CreateBatch(ctx context.Context, tx *gorm.DB, deliveries []*model.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(&deliveries).Error
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id int64) (*model.Delivery, error) {
	var delivery model.Delivery
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&delivery).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return &delivery, nil
}

func (r *DeliveryRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Delivery, error) {
	var delivery model.Delivery
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&delivery).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return &delivery, nil
}

// UpdateStatus 条件更新：只有当前状态仍为 fromStatus 时才会生效
func (r *DeliveryRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if !model.CanDeliveryTransitionTo(fromStatus, toStatus) {
		return ErrDeliveryStatusInvalid
	}
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Delivery{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDeliveryStatusInvalid
	}
	return nil
}

// ListDates 查询某用户某商品处于指定状态的配送日期
func (r *DeliveryRepository) ListDates(ctx context.Context, userID, productID int64, statuses []string) ([]string, error) {
	var dates []string
	err := r.db.WithContext(ctx).
		Model(&model.Delivery{}).
		Where("user_id = ? AND product_id = ? AND status IN ?", userID, productID, statuses).
		Order("delivery_date ASC").
		Pluck("delivery_date", &dates).Error
	return dates, err
}

type DeliveryFilter struct {
	UserID    int64
	ProductID int64
	Status    string
	BatchNo   string
	DateFrom  string
	DateTo    string
}

func (r *DeliveryRepository) List(ctx context.Context, filter DeliveryFilter, page, pageSize int) ([]*model.Delivery, int64, error) {
	var deliveries []*model.Delivery
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Delivery{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.ProductID != 0 {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.BatchNo != "" {
		query = query.Where("batch_no = ?", filter.BatchNo)
	}
	if filter.DateFrom != "" {
		query = query.Where("delivery_date >= ?", filter.DateFrom)
	}
	if filter.DateTo != "" {
		query = query.Where("delivery_date <= ?", filter.DateTo)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("delivery_date ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&deliveries).Error

	return deliveries, total, err
}

func (r *DeliveryRepository) CountByUserProduct(ctx context.Context, userID, productID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.Delivery{}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Count(&total).Error
	return total, err
}
