package job

import (
	"context"
	"errors"
	"testing"

	"mealsub/internal/config"
	"mealsub/internal/model"
	"mealsub/internal/repository"
	"mealsub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	sent    []string
	failKey string
}

func (p *fakePublisher) Publish(topic, key string, value []byte) error {
	if key == p.failKey {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, key)
	return nil
}

func TestOutboxSender_ProcessPendingMessages(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewOutboxRepository(db)
	cfg := config.Default()
	cfg.Business.MaxRetryCount = 2

	for _, key := range []string{"ORDER-1", "ORDER-2"} {
		msg, err := model.NewOutboxMessage("payment-event", model.EventPaymentSettled, key, map[string]interface{}{"order_id": key})
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, nil, msg))
	}

	pub := &fakePublisher{failKey: "ORDER-2"}
	sender := NewOutboxSender(db, pub, cfg, zap.NewNop(), nil)

	sender.processPendingMessages(ctx)
	assert.Equal(t, []string{"ORDER-1"}, pub.sent)

	sent, err := repo.ListByKey(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusSent, sent[0].Status)

	failed, err := repo.ListByKey(ctx, "ORDER-2")
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusPending, failed[0].Status)
	assert.Equal(t, 1, failed[0].RetryCount)

	// 第二次失败达到上限
	sender.processPendingMessages(ctx)
	failed, err = repo.ListByKey(ctx, "ORDER-2")
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusFailed, failed[0].Status)
	assert.Equal(t, 2, failed[0].RetryCount)

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []string{"ORDER-1"}, pub.sent)
}
