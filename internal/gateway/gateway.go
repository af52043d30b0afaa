// Package gateway 支付网关客户端。
//
// 网关侧的处理对本服务是黑盒：同步确认接口返回审批结果，随后网关还会以
// webhook 的形式异步推送同一笔支付的状态。两条路径的结果由结算引擎统一处理。
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// 网关侧的支付状态
const (
	StatusReady             = "READY"
	StatusInProgress        = "IN_PROGRESS"
	StatusWaitingForDeposit = "WAITING_FOR_DEPOSIT"
	StatusDone              = "DONE"
	StatusCanceled          = "CANCELED"
	StatusPartialCanceled   = "PARTIAL_CANCELED"
	StatusAborted           = "ABORTED"
	StatusExpired           = "EXPIRED"
)

var (
	// ErrUnavailable 调用网关本身失败（网络错误、超时、5xx），结果未知，可用同一订单号重试
	ErrUnavailable    = errors.New("支付网关调用失败")
	ErrInvalidPayload = errors.New("回调报文格式错误")
)

// Client 支付网关
type Client interface {
	// Approve 同步确认支付
	Approve(ctx context.Context, req ApproveRequest) (*Result, error)
	// Query 按订单号查询网关侧的支付状态
	Query(ctx context.Context, orderID string) (*Result, error)
}

type ApproveRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// Result 网关返回的支付结果
type Result struct {
	PaymentKey     string `json:"paymentKey"`
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	TotalAmount    int64  `json:"totalAmount"`
	Method         string `json:"method,omitempty"`
	FailureCode    string `json:"-"`
	FailureMessage string `json:"-"`
	Raw            []byte `json:"-"`
}

// Rejected 网关明确拒绝（业务失败），与调用失败区分
func (r *Result) Rejected() bool {
	return r.Status == StatusAborted || r.FailureCode != ""
}

// Event 网关回调
type Event struct {
	EventType string
	OrderID   string
	Status    string
	// Amount 回调中的金额，为 0 表示报文未携带，需要向网关查询
	Amount     int64
	PaymentKey string
	Raw        []byte
}

type webhookEnvelope struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

type webhookPayment struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	TotalAmount    int64  `json:"totalAmount"`
	PaymentKey     string `json:"paymentKey"`
	TransactionKey string `json:"transactionKey"`
}

// ParseWebhook 解析回调报文
// 支持 {"eventType":..., "data":{...}} 与入金回调的平铺格式
func ParseWebhook(payload []byte) (*Event, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	body := []byte(envelope.Data)
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		body = payload
	}

	var p webhookPayment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	p.OrderID = strings.TrimSpace(p.OrderID)
	p.Status = strings.ToUpper(strings.TrimSpace(p.Status))
	if p.OrderID == "" || p.Status == "" {
		return nil, fmt.Errorf("%w: 缺少 orderId 或 status", ErrInvalidPayload)
	}
	if p.TotalAmount < 0 {
		return nil, fmt.Errorf("%w: 金额不合法", ErrInvalidPayload)
	}

	key := p.PaymentKey
	if key == "" {
		key = p.TransactionKey
	}
	return &Event{
		EventType:  envelope.EventType,
		OrderID:    p.OrderID,
		Status:     p.Status,
		Amount:     p.TotalAmount,
		PaymentKey: key,
		Raw:        payload,
	}, nil
}
