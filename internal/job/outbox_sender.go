package job

import (
	"context"
	"time"

	"mealsub/internal/config"
	"mealsub/internal/infrastructure/metrics"
	"mealsub/internal/infrastructure/mq"
	"mealsub/internal/model"
	"mealsub/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 把本地消息表中的待投递消息发送到 Kafka
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	cfg        *config.Config
	log        *zap.Logger
	metrics    *metrics.Metrics
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		log:        log.Named("outbox"),
		metrics:    m,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	log := s.log.With(zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))

	err := s.publisher.Publish(msg.Topic, msg.MessageKey, []byte(msg.Payload))
	s.metrics.RecordOutboxRelay(err)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			log.Error("更新消息状态失败", zap.Error(updateErr))
			return
		}
		log.Debug("消息发送成功", zap.String("event_type", msg.EventType))
		return
	}

	log.Warn("消息发送失败", zap.Error(err))

	exhausted, updateErr := s.outboxRepo.RecordFailure(ctx, msg, s.cfg.Business.MaxRetryCount)
	if updateErr != nil {
		log.Error("记录重试次数失败", zap.Error(updateErr))
		return
	}
	if exhausted {
		log.Error("消息超过最大重试次数，标记为失败", zap.Int("retry_count", msg.RetryCount+1))
	}
}
