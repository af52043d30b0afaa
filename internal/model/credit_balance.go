package model

import (
	"time"
)

// CreditBalance 配送次数余额表
// 每个 (用户, 商品) 一行，记录剩余可预约的配送次数
type CreditBalance struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64     `gorm:"uniqueIndex:uk_user_product;not null" json:"user_id"`
	ProductID      int64     `gorm:"uniqueIndex:uk_user_product;not null" json:"product_id"`
	RemainingCount int64     `gorm:"not null;default:0" json:"remaining_count"` // 剩余次数，永远 >= 0
	Version        int       `gorm:"not null;default:0" json:"version"`         // 乐观锁版本号
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditBalance) TableName() string {
	return "credit_balance"
}
