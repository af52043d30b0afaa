package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"mealsub/internal/config"
	"mealsub/internal/infrastructure/metrics"
	"mealsub/internal/model"
	"mealsub/internal/notify"
	"mealsub/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const notifyTimeout = 10 * time.Second

// DeliveryService 配送状态机：pending -> complete | cancel，终态不可再变更
type DeliveryService struct {
	db           *gorm.DB
	cfg          *config.Config
	log          *zap.Logger
	metrics      *metrics.Metrics
	notifier     notify.Notifier
	ledger       *LedgerService
	deliveryRepo *repository.DeliveryRepository
	productRepo  *repository.ProductRepository
	userRepo     *repository.UserRepository

	wg sync.WaitGroup
}

func NewDeliveryService(d Deps, ledger *LedgerService) *DeliveryService {
	return &DeliveryService{
		db:           d.DB,
		cfg:          d.Config,
		log:          d.Log.Named("delivery"),
		metrics:      d.Metrics,
		notifier:     d.Notifier,
		ledger:       ledger,
		deliveryRepo: repository.NewDeliveryRepository(d.DB),
		productRepo:  repository.NewProductRepository(d.DB),
		userRepo:     repository.NewUserRepository(d.DB),
	}
}

func (s *DeliveryService) GetDelivery(ctx context.Context, id int64) (*model.Delivery, error) {
	delivery, err := s.deliveryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return delivery, nil
}

// Transition 变更配送状态
// 取消时在同一事务内退回 1 次；完成后异步发送通知，通知失败不影响结果
func (s *DeliveryService) Transition(ctx context.Context, id int64, target string) (*model.Delivery, error) {
	delivery, err := s.transition(ctx, id, target)
	if model.IsDeliveryStatus(target) {
		s.metrics.RecordDeliveryTransition(target, err)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("配送状态变更",
		zap.Int64("delivery_id", id),
		zap.String("status", target))

	if target == model.DeliveryStatusComplete {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			s.notifyComplete(nctx, delivery)
		}()
	}
	return delivery, nil
}

func (s *DeliveryService) transition(ctx context.Context, id int64, target string) (*model.Delivery, error) {
	if target != model.DeliveryStatusComplete && target != model.DeliveryStatusCancel {
		if model.IsDeliveryStatus(target) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("%w: 未知的配送状态 %q", ErrInvalidArgument, target)
	}

	var delivery *model.Delivery
	err := s.db.Transaction(func(tx *gorm.DB) error {
		d, err := s.deliveryRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !model.CanDeliveryTransitionTo(d.Status, target) {
			return ErrInvalidTransition
		}

		if err := s.deliveryRepo.UpdateStatus(ctx, tx, id, d.Status, target); err != nil {
			return err
		}
		d.Status = target

		if target == model.DeliveryStatusCancel {
			if _, err := s.ledger.Refund(ctx, tx, d.UserID, d.ProductID, "DLV"+strconv.FormatInt(d.ID, 10)); err != nil {
				return fmt.Errorf("返还次数失败: %w", err)
			}
		}
		delivery = d
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return delivery, nil
}

func (s *DeliveryService) notifyComplete(ctx context.Context, delivery *model.Delivery) {
	log := s.log.With(zap.Int64("delivery_id", delivery.ID), zap.Int64("user_id", delivery.UserID))

	user, err := s.userRepo.GetByID(ctx, delivery.UserID)
	if err != nil {
		log.Warn("查询用户失败，跳过通知", zap.Error(err))
		s.metrics.RecordNotification(notify.KindDeliveryComplete, err)
		return
	}
	product, err := s.productRepo.GetByID(ctx, delivery.ProductID)
	if err != nil {
		log.Warn("查询商品失败，跳过通知", zap.Error(err))
		s.metrics.RecordNotification(notify.KindDeliveryComplete, err)
		return
	}
	remaining, err := s.ledger.GetBalance(ctx, delivery.UserID, delivery.ProductID)
	if err != nil {
		log.Warn("查询剩余次数失败，跳过通知", zap.Error(err))
		s.metrics.RecordNotification(notify.KindDeliveryComplete, err)
		return
	}

	payload := map[string]interface{}{
		"product_name":    product.Name,
		"delivery_date":   delivery.DeliveryDate,
		"remaining_count": remaining,
	}
	s.send(ctx, log, user.Phone, notify.KindDeliveryComplete, payload)

	if remaining <= s.cfg.Business.LowBalanceThreshold {
		s.send(ctx, log, user.Phone, notify.KindLowBalance, map[string]interface{}{
			"product_name":    product.Name,
			"remaining_count": remaining,
		})
	}
}

func (s *DeliveryService) send(ctx context.Context, log *zap.Logger, phone, kind string, payload map[string]interface{}) {
	result, err := s.notifier.Notify(ctx, phone, kind, payload)
	if err == nil && result != nil && !result.Success {
		err = errors.New("通知服务返回失败")
	}
	s.metrics.RecordNotification(kind, err)
	if err != nil {
		log.Warn("发送通知失败", zap.String("kind", kind), zap.Error(err))
		return
	}
	log.Debug("通知已发送", zap.String("kind", kind))
}

// Wait 等待在途通知发送完毕，停机时调用
func (s *DeliveryService) Wait() {
	s.wg.Wait()
}
