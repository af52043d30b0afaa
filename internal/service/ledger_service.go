package service

import (
	"context"
	"errors"
	"fmt"

	"mealsub/internal/model"
	"mealsub/internal/repository"
	"mealsub/pkg/idgen"

	"gorm.io/gorm"
)

// LedgerService 配送次数账本
// 所有变更都在调用方传入的事务内执行，并同时写一条流水
type LedgerService struct {
	db         *gorm.DB
	creditRepo *repository.CreditRepository
	txRepo     *repository.CreditTransactionRepository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		db:         db,
		creditRepo: repository.NewCreditRepository(db),
		txRepo:     repository.NewCreditTransactionRepository(db),
	}
}

// Credit 增加次数，余额行不存在时先创建
func (s *LedgerService) Credit(ctx context.Context, tx *gorm.DB, userID, productID, amount int64, referenceNo string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: 增加次数必须为正数", ErrInvalidArgument)
	}
	return s.increase(ctx, tx, userID, productID, amount, model.CreditTxTypeCredit, referenceNo)
}

// Refund 取消配送退回 1 次
func (s *LedgerService) Refund(ctx context.Context, tx *gorm.DB, userID, productID int64, referenceNo string) (*model.CreditTransaction, error) {
	return s.increase(ctx, tx, userID, productID, 1, model.CreditTxTypeRefund, referenceNo)
}

func (s *LedgerService) increase(ctx context.Context, tx *gorm.DB, userID, productID, amount int64, txType, referenceNo string) (*model.CreditTransaction, error) {
	if err := s.creditRepo.EnsureRow(ctx, tx, userID, productID); err != nil {
		return nil, fmt.Errorf("初始化次数余额失败: %w", err)
	}

	balance, err := s.creditRepo.GetForUpdate(ctx, tx, userID, productID)
	if err != nil {
		return nil, err
	}

	if err := s.creditRepo.Increase(ctx, tx, userID, productID, amount); err != nil {
		return nil, fmt.Errorf("增加次数失败: %w", err)
	}

	return s.journal(ctx, tx, balance, amount, txType, referenceNo)
}

// Debit 扣减次数，余额不足时整笔拒绝
// amount 为 0 时不产生任何变更
func (s *LedgerService) Debit(ctx context.Context, tx *gorm.DB, userID, productID, amount int64, referenceNo string) (*model.CreditTransaction, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: 扣减次数不能为负数", ErrInvalidArgument)
	}
	if amount == 0 {
		return nil, nil
	}

	balance, err := s.creditRepo.GetForUpdate(ctx, tx, userID, productID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return nil, ErrInsufficientCredit
		}
		return nil, err
	}
	if balance.RemainingCount < amount {
		return nil, ErrInsufficientCredit
	}

	if err := s.creditRepo.Deduct(ctx, tx, userID, productID, amount, balance.Version); err != nil {
		if errors.Is(err, repository.ErrCreditNotEnough) {
			return nil, ErrInsufficientCredit
		}
		return nil, err
	}

	return s.journal(ctx, tx, balance, -amount, model.CreditTxTypeDebit, referenceNo)
}

func (s *LedgerService) journal(ctx context.Context, tx *gorm.DB, balance *model.CreditBalance, delta int64, txType, referenceNo string) (*model.CreditTransaction, error) {
	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        balance.UserID,
		ProductID:     balance.ProductID,
		ReferenceNo:   referenceNo,
		Type:          txType,
		Amount:        delta,
		BalanceBefore: balance.RemainingCount,
		BalanceAfter:  balance.RemainingCount + delta,
	}
	if err := s.txRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录次数流水失败: %w", err)
	}
	return trans, nil
}

// GetBalance 查询剩余次数，从未购买过视为 0
func (s *LedgerService) GetBalance(ctx context.Context, userID, productID int64) (int64, error) {
	balance, err := s.creditRepo.Get(ctx, nil, userID, productID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return 0, nil
		}
		return 0, translate(err)
	}
	return balance.RemainingCount, nil
}

type BalanceSummary struct {
	UserID         int64 `json:"user_id"`
	ProductID      int64 `json:"product_id"`
	RemainingCount int64 `json:"remaining_count"`
	TotalCredited  int64 `json:"total_credited"`
	TotalDebited   int64 `json:"total_debited"`
	TotalRefunded  int64 `json:"total_refunded"`
	Consistent     bool  `json:"consistent"` // 余额与流水合计一致
}

// Summary 余额及流水汇总，用于对账
func (s *LedgerService) Summary(ctx context.Context, userID, productID int64) (*BalanceSummary, error) {
	remaining, err := s.GetBalance(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	summary := &BalanceSummary{UserID: userID, ProductID: productID, RemainingCount: remaining}
	if summary.TotalCredited, err = s.txRepo.SumByType(ctx, userID, productID, model.CreditTxTypeCredit); err != nil {
		return nil, translate(err)
	}
	if summary.TotalDebited, err = s.txRepo.SumByType(ctx, userID, productID, model.CreditTxTypeDebit); err != nil {
		return nil, translate(err)
	}
	if summary.TotalRefunded, err = s.txRepo.SumByType(ctx, userID, productID, model.CreditTxTypeRefund); err != nil {
		return nil, translate(err)
	}

	sum, err := s.txRepo.SumByUserProduct(ctx, userID, productID)
	if err != nil {
		return nil, translate(err)
	}
	summary.Consistent = sum == remaining
	return summary, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID, productID int64, page, pageSize int) (*Page[*model.CreditTransaction], error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.txRepo.ListByUserProduct(ctx, userID, productID, page, pageSize)
	if err != nil {
		return nil, translate(err)
	}
	return &Page[*model.CreditTransaction]{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

// Page 分页结果，Page/PageSize 为实际生效的分页参数
type Page[T any] struct {
	List     []T   `json:"list"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
