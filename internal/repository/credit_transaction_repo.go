package repository

import (
	"context"

	"mealsub/internal/model"

	"gorm.io/gorm"
)

type CreditTransactionRepository struct {
	db *gorm.DB
}

func NewCreditTransactionRepository(db *gorm.DB) *CreditTransactionRepository {
	return &CreditTransactionRepository{db: db}
}

func (r *CreditTransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *CreditTransactionRepository) ListByUserProduct(ctx context.Context, userID, productID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("user_id = ? AND product_id = ?", userID, productID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumByUserProduct 流水合计，对账用：应等于当前余额
func (r *CreditTransactionRepository) SumByUserProduct(ctx context.Context, userID, productID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *CreditTransactionRepository) SumByType(ctx context.Context, userID, productID int64, txType string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("user_id = ? AND product_id = ? AND type = ?", userID, productID, txType).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
