package service

import (
	"context"
	"testing"
	"time"

	"mealsub/internal/config"
	"mealsub/internal/gateway/gatewaytest"
	"mealsub/internal/infrastructure/lock"
	"mealsub/internal/infrastructure/metrics"
	"mealsub/internal/model"
	"mealsub/internal/notify"
	"mealsub/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 2025-03-03 是周一
var testToday = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

type notifyCall struct {
	phone   string
	kind    string
	payload map[string]interface{}
}

type fakeNotifier struct {
	calls chan notifyCall
	err   error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{calls: make(chan notifyCall, 16)}
}

func (n *fakeNotifier) Notify(ctx context.Context, phone, kind string, payload map[string]interface{}) (*notify.Result, error) {
	n.calls <- notifyCall{phone: phone, kind: kind, payload: payload}
	if n.err != nil {
		return nil, n.err
	}
	return &notify.Result{Success: true, Counts: map[string]int{"sent": 1}}, nil
}

func (n *fakeNotifier) next(t *testing.T) notifyCall {
	t.Helper()
	select {
	case c := <-n.calls:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("等待通知超时")
		return notifyCall{}
	}
}

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	gw       *gatewaytest.FakeClient
	notifier *fakeNotifier
	svc      *Services
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := config.Default()
	cfg.Business.Timezone = ""

	env := &testEnv{
		db:       db,
		cfg:      cfg,
		gw:       gatewaytest.NewFakeClient(),
		notifier: newFakeNotifier(),
	}
	deps := Deps{
		DB:       db,
		Config:   cfg,
		Log:      zap.NewNop(),
		Locker:   lock.NewLocalLocker(),
		Gateway:  env.gw,
		Notifier: env.notifier,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Now:      func() time.Time { return testToday },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.svc = NewServices(deps)
	t.Cleanup(env.svc.Delivery.Wait)
	return env
}

func (e *testEnv) credit(t *testing.T, userID, productID, amount int64) {
	t.Helper()
	err := e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Credit(context.Background(), tx, userID, productID, amount, "seed")
		return err
	})
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID, productID int64) int64 {
	t.Helper()
	b, err := e.svc.Ledger.GetBalance(context.Background(), userID, productID)
	require.NoError(t, err)
	return b
}

// requireConserved 余额必须等于流水合计
func (e *testEnv) requireConserved(t *testing.T, userID, productID int64) {
	t.Helper()
	summary, err := e.svc.Ledger.Summary(context.Background(), userID, productID)
	require.NoError(t, err)
	require.True(t, summary.Consistent, "余额 %d 与流水不一致: %+v", summary.RemainingCount, summary)
}

func day(s string) time.Time {
	d, err := model.ParseDate(s, time.UTC)
	if err != nil {
		panic(err)
	}
	return d
}

func days(values ...string) []time.Time {
	out := make([]time.Time, 0, len(values))
	for _, v := range values {
		out = append(out, day(v))
	}
	return out
}
