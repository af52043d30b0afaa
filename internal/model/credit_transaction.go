package model

import (
	"time"
)

const (
	CreditTxTypeCredit = "CREDIT" // 支付成功充值
	CreditTxTypeDebit  = "DEBIT"  // 预约配送扣减
	CreditTxTypeRefund = "REFUND" // 取消配送返还
)

// CreditTransaction 次数流水表
// 只追加，不修改。同一 (用户, 商品) 的 amount 之和恒等于当前余额
type CreditTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64     `gorm:"index:idx_credit_tx_user_product;not null" json:"user_id"`
	ProductID     int64     `gorm:"index:idx_credit_tx_user_product;not null" json:"product_id"`
	ReferenceNo   string    `gorm:"type:varchar(64);index;not null" json:"reference_no"` // 订单号 / 批次号 / 配送ID
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
