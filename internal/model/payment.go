package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentStatusPending               = "pending"
	PaymentStatusReady                 = "ready"
	PaymentStatusCompleted             = "completed"
	PaymentStatusFailed                = "failed"
	PaymentStatusCancelled             = "cancelled"
	PaymentStatusVbankReady            = "vbank_ready"
	PaymentStatusVbankExpired          = "vbank_expired"
	PaymentStatusAuthSignatureMismatch = "auth_signature_mismatch"
	PaymentStatusApprovalAPIFailed     = "approval_api_failed"
)

var beforeApproval = []string{
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusVbankReady,
	PaymentStatusReady,
	PaymentStatusApprovalAPIFailed,
	PaymentStatusAuthSignatureMismatch,
	PaymentStatusCancelled,
}

var ValidPaymentTransitions = map[string][]string{
	PaymentStatusPending: beforeApproval,
	PaymentStatusReady:   beforeApproval,
	PaymentStatusApprovalAPIFailed: {
		PaymentStatusCompleted,
		PaymentStatusFailed,
		PaymentStatusVbankReady,
		PaymentStatusApprovalAPIFailed,
		PaymentStatusAuthSignatureMismatch,
		PaymentStatusCancelled,
	},
	PaymentStatusVbankReady: {
		PaymentStatusCompleted,
		PaymentStatusVbankExpired,
		PaymentStatusCancelled,
		PaymentStatusAuthSignatureMismatch,
	},
	PaymentStatusCompleted: {PaymentStatusCancelled},
}

func CanPaymentTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidPaymentTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsPaymentSettled 已结算状态：重复的状态变更必须被识别为重复请求
func IsPaymentSettled(status string) bool {
	switch status {
	case PaymentStatusCompleted,
		PaymentStatusFailed,
		PaymentStatusCancelled,
		PaymentStatusAuthSignatureMismatch:
		return true
	}
	return false
}

// Payment 支付单
// 是网关侧支付状态在本地的镜像，order_id 全局唯一且不可修改
type Payment struct {
	ID                   int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID              string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	UserID               int64          `gorm:"index;not null" json:"user_id"`
	ProductID            int64          `gorm:"index;not null" json:"product_id"`
	Amount               int64          `gorm:"not null" json:"amount"`
	Status               string         `gorm:"type:varchar(32);index;not null" json:"status"`
	GatewayTransactionID string         `gorm:"type:varchar(200)" json:"gateway_transaction_id,omitempty"`
	RawGatewayPayload    datatypes.JSON `json:"raw_gateway_payload,omitempty"`
	RequestedDates       string         `gorm:"type:varchar(1024)" json:"-"` // 下单时客户选择的配送日期，逗号分隔
	PaidAt               *time.Time     `json:"paid_at"`
	CreatedAt            time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}

func (p *Payment) RequestedDateList() []string {
	if strings.TrimSpace(p.RequestedDates) == "" {
		return nil
	}
	return strings.Split(p.RequestedDates, ",")
}
