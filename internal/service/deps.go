package service

import (
	"time"

	"mealsub/internal/config"
	"mealsub/internal/gateway"
	"mealsub/internal/infrastructure/lock"
	"mealsub/internal/infrastructure/metrics"
	"mealsub/internal/notify"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 服务依赖，由 main 组装后注入
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	Log      *zap.Logger
	Locker   lock.Locker
	Gateway  gateway.Client
	Notifier notify.Notifier
	Metrics  *metrics.Metrics // 可选
	Now      func() time.Time // 可选，测试中固定“今天”
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Services 对外暴露的全部服务
type Services struct {
	Ledger     *LedgerService
	Schedule   *ScheduleService
	Delivery   *DeliveryService
	Settlement *SettlementService
}

func NewServices(d Deps) *Services {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocalLocker()
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(d.Log)
	}
	if d.Config == nil {
		d.Config = config.Default()
	}

	ledger := NewLedgerService(d.DB)
	schedule := NewScheduleService(d, ledger)
	return &Services{
		Ledger:     ledger,
		Schedule:   schedule,
		Delivery:   NewDeliveryService(d, ledger),
		Settlement: NewSettlementService(d, ledger, schedule),
	}
}
