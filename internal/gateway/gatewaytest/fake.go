// Package gatewaytest 提供测试用的网关替身
package gatewaytest

import (
	"context"
	"encoding/json"
	"sync"

	"mealsub/internal/gateway"
)

// FakeClient 按订单号预设返回结果
type FakeClient struct {
	mu         sync.Mutex
	results    map[string]*gateway.Result
	errs       map[string]error
	ApproveCnt int
	QueryCnt   int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		results: make(map[string]*gateway.Result),
		errs:    make(map[string]error),
	}
}

// Done 预设网关审批成功
func (f *FakeClient) Done(orderID string, amount int64) {
	f.Set(orderID, &gateway.Result{
		PaymentKey:  "pk_" + orderID,
		OrderID:     orderID,
		Status:      gateway.StatusDone,
		TotalAmount: amount,
	})
}

func (f *FakeClient) Set(orderID string, result *gateway.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if result.Raw == nil {
		result.Raw, _ = json.Marshal(result)
	}
	f.results[orderID] = result
	delete(f.errs, orderID)
}

func (f *FakeClient) Fail(orderID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[orderID] = err
}

func (f *FakeClient) Approve(ctx context.Context, req gateway.ApproveRequest) (*gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ApproveCnt++
	return f.lookup(req.OrderID)
}

func (f *FakeClient) Query(ctx context.Context, orderID string) (*gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryCnt++
	return f.lookup(orderID)
}

func (f *FakeClient) lookup(orderID string) (*gateway.Result, error) {
	if err, ok := f.errs[orderID]; ok {
		return nil, err
	}
	if result, ok := f.results[orderID]; ok {
		copied := *result
		return &copied, nil
	}
	return &gateway.Result{
		OrderID:     orderID,
		Status:      gateway.StatusAborted,
		FailureCode: "NOT_FOUND_PAYMENT",
	}, nil
}
