package model

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent 网关回调记录
// 先落库再处理，落库成功即向网关返回成功
type WebhookEvent struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID         string         `gorm:"type:varchar(64);index;not null" json:"order_id"`
	GatewayStatus   string         `gorm:"type:varchar(32);not null" json:"gateway_status"`
	Payload         datatypes.JSON `gorm:"not null" json:"payload"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError string         `gorm:"type:varchar(512)" json:"processing_error,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_event"
}
