package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"mealsub/internal/config"

	"github.com/valyala/fasthttp"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPClient 基于 fasthttp 的网关实现
type HTTPClient struct {
	client    *fasthttp.Client
	baseURL   string
	authValue string
	timeout   time.Duration
}

func NewHTTPClient(cfg config.GatewayConfig) *HTTPClient {
	return NewHTTPClientWith(&fasthttp.Client{
		Name:         "mealsub",
		ReadTimeout:  cfg.Timeout(),
		WriteTimeout: cfg.Timeout(),
	}, cfg)
}

// NewHTTPClientWith 使用自定义的 fasthttp.Client，测试中注入内存连接
func NewHTTPClientWith(client *fasthttp.Client, cfg config.GatewayConfig) *HTTPClient {
	// 密钥 + ":" 做 Basic 认证
	token := base64.StdEncoding.EncodeToString([]byte(cfg.SecretKey + ":"))
	return &HTTPClient{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authValue: "Basic " + token,
		timeout:   cfg.Timeout(),
	}
}

func (c *HTTPClient) Approve(ctx context.Context, req ApproveRequest) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, fasthttp.MethodPost, "/v1/payments/confirm", body, req.OrderID)
}

func (c *HTTPClient) Query(ctx context.Context, orderID string) (*Result, error) {
	return c.do(ctx, fasthttp.MethodGet, "/v1/payments/orders/"+url.PathEscape(orderID), nil, orderID)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, orderID string) (*Result, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", c.authValue)
	// 同一订单重复确认时网关按幂等键返回相同结果
	req.Header.Set("Idempotency-Key", orderID)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status := resp.StatusCode()
	raw := append([]byte(nil), resp.Body()...)

	if status >= 500 {
		return nil, fmt.Errorf("%w: status code %d", ErrUnavailable, status)
	}
	if status >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Code == "" {
			apiErr.Code = fmt.Sprintf("HTTP_%d", status)
		}
		return &Result{
			OrderID:        orderID,
			Status:         StatusAborted,
			FailureCode:    apiErr.Code,
			FailureMessage: apiErr.Message,
			Raw:            raw,
		}, nil
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: 响应解析失败: %v", ErrUnavailable, err)
	}
	result.Status = strings.ToUpper(result.Status)
	result.Raw = raw
	return &result, nil
}
