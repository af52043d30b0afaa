package job

import (
	"context"
	"errors"
	"time"

	"mealsub/internal/model"
	"mealsub/internal/service"

	"go.uber.org/zap"
)

// Reconciler 由结算服务实现
type Reconciler interface {
	StalePayments(ctx context.Context, limit int) ([]*model.Payment, error)
	Reconcile(ctx context.Context, orderID string) (*service.SettlementResult, error)
}

// PaymentSweeper 超时未结算的支付单向网关查询后收敛：
// 网关已完成的按正常流程结算，其余置为失败
type PaymentSweeper struct {
	reconciler Reconciler
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewPaymentSweeper(reconciler Reconciler, log *zap.Logger) *PaymentSweeper {
	return &PaymentSweeper{
		reconciler: reconciler,
		log:        log.Named("sweeper"),
		stopCh:     make(chan struct{}),
		interval:   time.Minute,
		batchSize:  50,
	}
}

func (j *PaymentSweeper) Start(ctx context.Context) {
	j.log.Info("超时支付单扫描任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *PaymentSweeper) Stop() {
	close(j.stopCh)
}

func (j *PaymentSweeper) sweep(ctx context.Context) {
	payments, err := j.reconciler.StalePayments(ctx, j.batchSize)
	if err != nil {
		j.log.Error("查询超时支付单失败", zap.Error(err))
		return
	}
	if len(payments) == 0 {
		return
	}

	j.log.Info("发现超时支付单", zap.Int("count", len(payments)))

	settled := 0
	for _, p := range payments {
		log := j.log.With(zap.String("order_id", p.OrderID), zap.String("status", p.Status))

		result, err := j.reconciler.Reconcile(ctx, p.OrderID)
		switch {
		case err == nil && result.PaymentStatus == p.Status:
			log.Debug("网关仍未给出结果")
		case err == nil:
			settled++
			log.Info("支付单已收敛", zap.String("to", result.PaymentStatus))
		case errors.Is(err, service.ErrScheduleFailed):
			settled++
			log.Warn("支付已完成，配送预约失败，需客户重新预约", zap.Error(err))
		case errors.Is(err, service.ErrGatewayCallFailed):
			log.Warn("查询网关失败，下次重试", zap.Error(err))
		default:
			log.Error("处理超时支付单失败", zap.Error(err))
		}
	}

	j.log.Info("本次扫描完成", zap.Int("total", len(payments)), zap.Int("settled", settled))
}
