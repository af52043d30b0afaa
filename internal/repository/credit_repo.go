package repository

import (
	"context"
	"errors"

	"mealsub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound = errors.New("次数余额不存在")
	ErrCreditNotEnough = errors.New("剩余次数不足")
	ErrOptimisticLock  = errors.New("乐观锁冲突，请重试")
)

type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *CreditRepository) Get(ctx context.Context, tx *gorm.DB, userID, productID int64) (*model.CreditBalance, error) {
	var balance model.CreditBalance
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetForUpdate 加行锁读取余额，必须在事务内调用
func (r *CreditRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, userID, productID int64) (*model.CreditBalance, error) {
	var balance model.CreditBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// EnsureRow 余额行不存在时插入一行 0，并发插入由唯一索引去重
func (r *CreditRepository) EnsureRow(ctx context.Context, tx *gorm.DB, userID, productID int64) error {
	row := &model.CreditBalance{
		UserID:    userID,
		ProductID: productID,
	}
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "product_id"}},
			DoNothing: true,
		}).
		Create(row).Error
}

// Deduct 扣减次数
// 条件更新同时校验余额与版本号，两个并发扣减不可能同时越过余额
func (r *CreditRepository) Deduct(ctx context.Context, tx *gorm.DB, userID, productID, amount int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND product_id = ? AND remaining_count >= ? AND version = ?", userID, productID, amount, version).
		Updates(map[string]interface{}{
			"remaining_count": gorm.Expr("remaining_count - ?", amount),
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		balance, err := r.Get(ctx, tx, userID, productID)
		if err != nil {
			return err
		}
		if balance.RemainingCount < amount {
			return ErrCreditNotEnough
		}
		return ErrOptimisticLock
	}
	return nil
}

func (r *CreditRepository) Increase(ctx context.Context, tx *gorm.DB, userID, productID, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Updates(map[string]interface{}{
			"remaining_count": gorm.Expr("remaining_count + ?", amount),
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}
