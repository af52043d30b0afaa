package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mealsub/internal/config"
	"mealsub/internal/gateway"
	"mealsub/internal/gateway/gatewaytest"
	"mealsub/internal/infrastructure/lock"
	"mealsub/internal/infrastructure/metrics"
	"mealsub/internal/model"
	"mealsub/internal/notify"
	"mealsub/internal/service"
	"mealsub/internal/testutil"
	"mealsub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	gw      *gatewaytest.FakeClient
	product *model.Product
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := config.Default()
	cfg.Business.Timezone = ""
	gw := gatewaytest.NewFakeClient()
	registry := prometheus.NewRegistry()

	svc := service.NewServices(service.Deps{
		DB:       db,
		Config:   cfg,
		Log:      zap.NewNop(),
		Locker:   lock.NewLocalLocker(),
		Gateway:  gw,
		Notifier: notify.NewLogNotifier(zap.NewNop()),
		Metrics:  metrics.New(registry),
		Now:      func() time.Time { return time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(svc.Delivery.Wait)

	h := NewHandler(svc, cfg, zap.NewNop())
	return &testServer{
		router:  SetupRouter(h, zap.NewNop(), registry),
		db:      db,
		gw:      gw,
		product: testutil.SeedProduct(t, db, 70000, 3, ""),
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, role string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set(HeaderUserID, fmt.Sprint(userID))
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w.Code, env
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/health", 0, "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodPost, "/api/v1/payments/prepare", 0, "", gin.H{"product_id": s.product.ID})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)
}

func TestPrepareAndConfirm(t *testing.T) {
	s := newTestServer(t)

	_, env := s.do(t, http.MethodPost, "/api/v1/payments/prepare", 7, "", gin.H{
		"product_id":     s.product.ID,
		"delivery_dates": []string{"2025-03-04"},
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var prepared service.PrepareResult
	require.NoError(t, json.Unmarshal(env.Data, &prepared))
	assert.Equal(t, int64(70000), prepared.Amount)

	s.gw.Done(prepared.OrderID, 70000)
	confirm := gin.H{"order_id": prepared.OrderID, "payment_key": "pk_1", "amount": 70000}

	_, env = s.do(t, http.MethodPost, "/api/v1/payments/confirm", 7, "", confirm)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var result service.SettlementResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, model.PaymentStatusCompleted, result.PaymentStatus)
	require.NotNil(t, result.Schedule)
	assert.Len(t, result.Schedule.Deliveries, 1)
	assert.Equal(t, int64(2), result.Schedule.RemainingCount)

	// 重复确认按成功返回
	_, env = s.do(t, http.MethodPost, "/api/v1/payments/confirm", 7, "", confirm)
	require.Equal(t, response.CodeSuccess, env.Code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.AlreadySettled)

	_, env = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/credits/balance?product_id=%d", s.product.ID), 7, "", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var summary service.BalanceSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, int64(2), summary.RemainingCount)
	assert.True(t, summary.Consistent)

	// 其他用户看不到该订单
	_, env = s.do(t, http.MethodGet, "/api/v1/payments/"+prepared.OrderID, 8, "", nil)
	assert.Equal(t, response.CodeNotFound, env.Code)
}

func TestConfirmAmountMismatch(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/api/v1/payments/prepare", 7, "", gin.H{"product_id": s.product.ID})
	var prepared service.PrepareResult
	require.NoError(t, json.Unmarshal(env.Data, &prepared))

	_, env = s.do(t, http.MethodPost, "/api/v1/payments/confirm", 7, "", gin.H{
		"order_id": prepared.OrderID, "payment_key": "pk_1", "amount": 100,
	})
	assert.Equal(t, response.CodeAmountMismatch, env.Code)
	var result service.SettlementResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, model.PaymentStatusAuthSignatureMismatch, result.PaymentStatus)
}

func TestWebhookStatusCodes(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPost, "/api/v1/payments/webhook", 0, "", []byte(`{broken`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(t, http.MethodPost, "/api/v1/payments/webhook", 0, "",
		[]byte(`{"eventType":"PAYMENT_STATUS_CHANGED","data":{"orderId":"NOPE","status":"DONE","totalAmount":1}}`))
	assert.Equal(t, http.StatusOK, code)
	var outcome service.WebhookOutcome
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.NotEmpty(t, outcome.ProcessingError)
}

func TestWebhookGatewayDownAsksForRetry(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.db.Create(&model.Payment{
		OrderID: "MEAL-VBANK", UserID: 1, ProductID: s.product.ID, Amount: 70000, Status: model.PaymentStatusVbankReady,
	}).Error)
	s.gw.Fail("MEAL-VBANK", gateway.ErrUnavailable)

	body := []byte(`{"orderId":"MEAL-VBANK","status":"DONE"}`)
	code, env := s.do(t, http.MethodPost, "/api/v1/payments/webhook", 0, "", body)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, response.CodeGatewayError, env.Code)

	s.gw.Done("MEAL-VBANK", 70000)
	code, env = s.do(t, http.MethodPost, "/api/v1/payments/webhook", 0, "", body)
	assert.Equal(t, http.StatusOK, code)
	var outcome service.WebhookOutcome
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.Empty(t, outcome.ProcessingError)
	assert.Equal(t, model.PaymentStatusCompleted, outcome.Result.PaymentStatus)
}

func TestDeliveryAuthorization(t *testing.T) {
	s := newTestServer(t)

	// 管理员为用户 7 预约，今天也可以
	_, env := s.do(t, http.MethodPost, "/api/v1/deliveries/schedule", 1, "elevated", gin.H{
		"user_id": 7, "product_id": s.product.ID, "delivery_dates": []string{"2025-03-03"},
	})
	assert.Equal(t, response.CodeInsufficientCredit, env.Code)

	require.NoError(t, s.db.Create(&model.CreditBalance{UserID: 7, ProductID: s.product.ID, RemainingCount: 2}).Error)
	require.NoError(t, s.db.Create(&model.CreditTransaction{
		TransactionNo: "seed", UserID: 7, ProductID: s.product.ID, Type: model.CreditTxTypeCredit, Amount: 2, BalanceAfter: 2,
	}).Error)

	_, env = s.do(t, http.MethodPost, "/api/v1/deliveries/schedule", 1, "elevated", gin.H{
		"user_id": 7, "product_id": s.product.ID, "count": 2,
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var scheduled service.ScheduleResult
	require.NoError(t, json.Unmarshal(env.Data, &scheduled))
	require.Len(t, scheduled.Deliveries, 2)
	assert.Equal(t, "2025-03-03", scheduled.Deliveries[0].DeliveryDate)

	first := fmt.Sprintf("/api/v1/deliveries/%d/status", scheduled.Deliveries[0].ID)
	second := fmt.Sprintf("/api/v1/deliveries/%d/status", scheduled.Deliveries[1].ID)

	// 普通用户不能标记完成
	_, env = s.do(t, http.MethodPost, first, 7, "", gin.H{"status": "complete"})
	assert.Equal(t, response.CodeForbidden, env.Code)

	// 不能取消别人的配送
	_, env = s.do(t, http.MethodPost, first, 8, "", gin.H{"status": "cancel"})
	assert.Equal(t, response.CodeNotFound, env.Code)

	_, env = s.do(t, http.MethodPost, first, 7, "", gin.H{"status": "cancel"})
	assert.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = s.do(t, http.MethodPost, first, 7, "", gin.H{"status": "cancel"})
	assert.Equal(t, response.CodeInvalidTransition, env.Code)

	_, env = s.do(t, http.MethodPost, second, 1, "elevated", gin.H{"status": "complete"})
	assert.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/deliveries?product_id=%d&status=complete&page=0&page_size=500", s.product.ID), 7, "", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var page struct {
		Total    int64 `json:"total"`
		Page     int   `json:"page"`
		PageSize int   `json:"page_size"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
}

func TestAvailableDatesEndpoint(t *testing.T) {
	s := newTestServer(t)

	_, env := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/deliveries/available-dates?product_id=%d&count=2", s.product.ID), 7, "", nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var body struct {
		Dates []string `json:"dates"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, []string{"2025-03-04", "2025-03-05"}, body.Dates)

	_, env = s.do(t, http.MethodGet, "/api/v1/deliveries/available-dates", 7, "", nil)
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestAdminRoutesRequireElevated(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/api/v1/admin/payments/ANY/reconcile", 7, "", nil)
	assert.Equal(t, response.CodeForbidden, env.Code)

	_, env = s.do(t, http.MethodPost, "/api/v1/admin/payments/ANY/reconcile", 1, "elevated", nil)
	assert.Equal(t, response.CodeNotFound, env.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
