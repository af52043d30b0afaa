package repository_test

import (
	"context"
	"testing"
	"time"

	"mealsub/internal/model"
	"mealsub/internal/repository"
	"mealsub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreditRepository_EnsureRowIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewCreditRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureRow(ctx, nil, 1, 10))
	require.NoError(t, repo.Increase(ctx, db, 1, 10, 4))
	require.NoError(t, repo.EnsureRow(ctx, nil, 1, 10))

	balance, err := repo.Get(ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance.RemainingCount)

	_, err = repo.Get(ctx, nil, 2, 10)
	assert.ErrorIs(t, err, repository.ErrBalanceNotFound)
}

func TestCreditRepository_Deduct(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewCreditRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureRow(ctx, nil, 1, 10))
	require.NoError(t, repo.Increase(ctx, db, 1, 10, 3))

	err := db.Transaction(func(tx *gorm.DB) error {
		balance, err := repo.GetForUpdate(ctx, tx, 1, 10)
		if err != nil {
			return err
		}
		return repo.Deduct(ctx, tx, 1, 10, 5, balance.Version)
	})
	assert.ErrorIs(t, err, repository.ErrCreditNotEnough)

	// 版本号过期
	err = db.Transaction(func(tx *gorm.DB) error {
		return repo.Deduct(ctx, tx, 1, 10, 1, 0)
	})
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)

	err = db.Transaction(func(tx *gorm.DB) error {
		balance, err := repo.GetForUpdate(ctx, tx, 1, 10)
		if err != nil {
			return err
		}
		return repo.Deduct(ctx, tx, 1, 10, 3, balance.Version)
	})
	require.NoError(t, err)

	balance, err := repo.Get(ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.RemainingCount)
}

func TestPaymentRepository_UpdateStatusFirstWriterWins(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewPaymentRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, nil, &model.Payment{
		OrderID: "ORDER-1", UserID: 1, ProductID: 10, Amount: 70000, Status: model.PaymentStatusPending,
	}))

	now := time.Now()
	err := repo.UpdateStatus(ctx, nil, "ORDER-1", model.PaymentStatusPending, model.PaymentStatusCompleted, repository.PaymentUpdate{
		GatewayTransactionID: "pk_1",
		RawGatewayPayload:    []byte(`{"status":"DONE"}`),
		PaidAt:               &now,
	})
	require.NoError(t, err)

	// 第二个写入者看到的仍是 pending，条件更新不生效
	err = repo.UpdateStatus(ctx, nil, "ORDER-1", model.PaymentStatusPending, model.PaymentStatusFailed, repository.PaymentUpdate{})
	assert.ErrorIs(t, err, repository.ErrPaymentStatusChanged)

	err = repo.UpdateStatus(ctx, nil, "ORDER-1", model.PaymentStatusFailed, model.PaymentStatusCompleted, repository.PaymentUpdate{})
	assert.ErrorIs(t, err, repository.ErrPaymentStatusInvalid)

	payment, err := repo.GetByOrderID(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "pk_1", payment.GatewayTransactionID)
	assert.NotNil(t, payment.PaidAt)

	_, err = repo.GetByOrderID(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrPaymentNotFound)
}

func TestDeliveryRepository_StatusAndDates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewDeliveryRepository(db)
	ctx := context.Background()

	deliveries := []*model.Delivery{
		{UserID: 1, ProductID: 10, DeliveryDate: "2026-10-21", Status: model.DeliveryStatusPending, BatchNo: "B1"},
		{UserID: 1, ProductID: 10, DeliveryDate: "2026-10-20", Status: model.DeliveryStatusPending, BatchNo: "B1"},
		{UserID: 2, ProductID: 10, DeliveryDate: "2026-10-22", Status: model.DeliveryStatusPending, BatchNo: "B2"},
	}
	require.NoError(t, repo.CreateBatch(ctx, nil, deliveries))
	require.NotZero(t, deliveries[0].ID)

	require.NoError(t, repo.UpdateStatus(ctx, nil, deliveries[0].ID, model.DeliveryStatusPending, model.DeliveryStatusCancel))
	err := repo.UpdateStatus(ctx, nil, deliveries[0].ID, model.DeliveryStatusPending, model.DeliveryStatusComplete)
	assert.ErrorIs(t, err, repository.ErrDeliveryStatusInvalid)
	err = repo.UpdateStatus(ctx, nil, deliveries[0].ID, model.DeliveryStatusCancel, model.DeliveryStatusPending)
	assert.ErrorIs(t, err, repository.ErrDeliveryStatusInvalid)

	dates, err := repo.ListDates(ctx, 1, 10, []string{model.DeliveryStatusPending, model.DeliveryStatusComplete})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-20"}, dates)

	list, total, err := repo.List(ctx, repository.DeliveryFilter{ProductID: 10, BatchNo: "B1"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "2026-10-20", list[0].DeliveryDate)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrDeliveryNotFound)
}

func TestOutboxRepository_RecordFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewOutboxRepository(db)
	ctx := context.Background()

	msg, err := model.NewOutboxMessage("payment-event", model.EventPaymentSettled, "ORDER-1", map[string]interface{}{"order_id": "ORDER-1"})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, nil, msg))

	exhausted, err := repo.RecordFailure(ctx, msg, 2)
	require.NoError(t, err)
	assert.False(t, exhausted)

	msg.RetryCount = 1
	exhausted, err = repo.RecordFailure(ctx, msg, 2)
	require.NoError(t, err)
	assert.True(t, exhausted)

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := repo.ListByKey(ctx, "ORDER-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.OutboxStatusFailed, stored[0].Status)
	assert.Equal(t, 2, stored[0].RetryCount)
}
