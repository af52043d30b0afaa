package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 领域事件类型
const (
	EventPaymentSettled        = "payment.settled"
	EventPaymentCancelled      = "payment.cancelled"
	EventPaymentAmountMismatch = "payment.amount_mismatch"
	EventScheduleCreated       = "schedule.created"
)

// OutboxMessage 本地消息表，与业务数据在同一事务内写入，由后台任务投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// NewOutboxMessage 构造一条待投递消息，payload 序列化为 JSON
func NewOutboxMessage(topic, eventType, key string, payload map[string]interface{}) (*OutboxMessage, error) {
	payload["event_type"] = eventType
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(body),
		Status:     OutboxStatusPending,
	}, nil
}
