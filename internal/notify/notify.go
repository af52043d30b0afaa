// Package notify 对接外部通知服务（短信/消息模板）。
// 通知是尽力而为的：调用方只记录失败，不回滚已提交的业务数据。
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mealsub/internal/infrastructure/mq"

	"go.uber.org/zap"
)

// 模板类型
const (
	KindDeliveryComplete = "delivery_complete"
	KindLowBalance       = "low_balance"
)

var ErrNoRecipient = errors.New("通知接收人手机号为空")

// Result 通知服务的返回
type Result struct {
	Success bool           `json:"success"`
	Counts  map[string]int `json:"counts,omitempty"`
}

// Notifier 通知协作方
type Notifier interface {
	Notify(ctx context.Context, phone, kind string, payload map[string]interface{}) (*Result, error)
}

type notificationMessage struct {
	Phone     string                 `json:"phone"`
	Kind      string                 `json:"kind"`
	Context   map[string]interface{} `json:"context"`
	CreatedAt time.Time              `json:"created_at"`
}

// KafkaNotifier 把通知请求投递到通知服务消费的 topic
type KafkaNotifier struct {
	publisher mq.Publisher
	topic     string
}

func NewKafkaNotifier(publisher mq.Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, phone, kind string, payload map[string]interface{}) (*Result, error) {
	if phone == "" {
		return nil, ErrNoRecipient
	}
	body, err := json.Marshal(notificationMessage{
		Phone:     phone,
		Kind:      kind,
		Context:   payload,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := n.publisher.Publish(n.topic, phone, body); err != nil {
		return nil, err
	}
	return &Result{Success: true, Counts: map[string]int{"queued": 1}}, nil
}

// LogNotifier 未启用 Kafka 时只打日志
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, phone, kind string, payload map[string]interface{}) (*Result, error) {
	if phone == "" {
		return nil, ErrNoRecipient
	}
	n.log.Info("notification skipped (no broker)", zap.String("kind", kind), zap.Any("context", payload))
	return &Result{Success: true, Counts: map[string]int{"skipped": 1}}, nil
}
