package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"mealsub/internal/config"
	"mealsub/internal/infrastructure/lock"
	"mealsub/internal/infrastructure/metrics"
	"mealsub/internal/model"
	"mealsub/internal/repository"
	"mealsub/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScheduleService 配送预约：批量创建配送记录并扣减同等次数，二者同属一个事务
type ScheduleService struct {
	db           *gorm.DB
	cfg          *config.Config
	log          *zap.Logger
	locker       lock.Locker
	metrics      *metrics.Metrics
	now          func() time.Time
	ledger       *LedgerService
	deliveryRepo *repository.DeliveryRepository
	productRepo  *repository.ProductRepository
	outboxRepo   *repository.OutboxRepository
}

func NewScheduleService(d Deps, ledger *LedgerService) *ScheduleService {
	return &ScheduleService{
		db:           d.DB,
		cfg:          d.Config,
		log:          d.Log.Named("schedule"),
		locker:       d.Locker,
		metrics:      d.Metrics,
		now:          d.now,
		ledger:       ledger,
		deliveryRepo: repository.NewDeliveryRepository(d.DB),
		productRepo:  repository.NewProductRepository(d.DB),
		outboxRepo:   repository.NewOutboxRepository(d.DB),
	}
}

type ScheduleRequest struct {
	UserID    int64
	ProductID int64
	// Dates 指定日期；为空时按 Count 自动选择最近的可预约日期
	Dates          []time.Time
	Count          int
	Role           Role
	SpecialRequest string
	ReferenceNo    string
}

type ScheduleResult struct {
	BatchNo        string            `json:"batch_no,omitempty"`
	Deliveries     []*model.Delivery `json:"deliveries"`
	RemainingCount int64             `json:"remaining_count"`
}

func (s *ScheduleService) Schedule(ctx context.Context, req *ScheduleRequest) (*ScheduleResult, error) {
	if req.UserID <= 0 || req.ProductID <= 0 || req.Count < 0 {
		return nil, ErrInvalidArgument
	}
	if len(req.Dates) == 0 && req.Count == 0 {
		return &ScheduleResult{Deliveries: []*model.Delivery{}}, nil
	}

	release, err := s.locker.Acquire(ctx, lock.LedgerKey(req.UserID, req.ProductID))
	if err != nil {
		return nil, fmt.Errorf("%w: 获取预约锁失败: %v", ErrStorageUnavailable, err)
	}
	defer release()

	dates := req.Dates
	if len(dates) == 0 {
		dates, err = s.autoSelect(ctx, req)
		if err != nil {
			return nil, err
		}
	} else if err := s.validateDates(ctx, req.ProductID, req.Role, dates); err != nil {
		return nil, err
	}

	count := int64(len(dates))
	balance, err := s.ledger.GetBalance(ctx, req.UserID, req.ProductID)
	if err != nil {
		return nil, err
	}
	if balance < count {
		s.metrics.RecordDebitRejected()
		return nil, ErrInsufficientCredit
	}

	batchNo := idgen.GenerateBatchNo()
	deliveries := make([]*model.Delivery, 0, len(dates))
	for _, d := range dates {
		deliveries = append(deliveries, &model.Delivery{
			UserID:         req.UserID,
			ProductID:      req.ProductID,
			DeliveryDate:   model.FormatDate(d),
			Status:         model.DeliveryStatusPending,
			SpecialRequest: req.SpecialRequest,
			BatchNo:        batchNo,
		})
	}

	var remaining int64
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.deliveryRepo.CreateBatch(ctx, tx, deliveries); err != nil {
			return fmt.Errorf("创建配送记录失败: %w", err)
		}

		trans, err := s.ledger.Debit(ctx, tx, req.UserID, req.ProductID, count, batchNo)
		if err != nil {
			return err
		}
		remaining = trans.BalanceAfter

		dateList := make([]string, 0, len(deliveries))
		for _, d := range deliveries {
			dateList = append(dateList, d.DeliveryDate)
		}
		msg, err := model.NewOutboxMessage(s.cfg.Kafka.Topic.ScheduleEvent, model.EventScheduleCreated, batchNo, map[string]interface{}{
			"batch_no":     batchNo,
			"user_id":      req.UserID,
			"product_id":   req.ProductID,
			"reference_no": req.ReferenceNo,
			"dates":        dateList,
			"count":        count,
		})
		if err != nil {
			return err
		}
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredit) {
			s.metrics.RecordDebitRejected()
		}
		return nil, translate(err)
	}

	s.log.Info("配送预约成功",
		zap.String("batch_no", batchNo),
		zap.Int64("user_id", req.UserID),
		zap.Int64("product_id", req.ProductID),
		zap.Int64("count", count),
		zap.Int64("remaining", remaining))

	return &ScheduleResult{
		BatchNo:        batchNo,
		Deliveries:     deliveries,
		RemainingCount: remaining,
	}, nil
}

func (s *ScheduleService) autoSelect(ctx context.Context, req *ScheduleRequest) ([]time.Time, error) {
	seq, err := s.availableSeq(ctx, req.UserID, req.ProductID, req.Role)
	if err != nil {
		return nil, err
	}
	dates := FirstN(seq, req.Count)
	if len(dates) < req.Count {
		return nil, fmt.Errorf("%w: 需要 %d 天，可预约 %d 天", ErrInsufficientDates, req.Count, len(dates))
	}
	return dates, nil
}

// validateDates 普通用户只能预约明天及以后的配送日；管理员指定日期不做限制
func (s *ScheduleService) validateDates(ctx context.Context, productID int64, role Role, dates []time.Time) error {
	if role.Elevated() {
		return nil
	}
	weekdays, err := s.weekdays(ctx, productID)
	if err != nil {
		return err
	}
	allowed := make(map[time.Weekday]bool, len(weekdays))
	for _, wd := range weekdays {
		allowed[wd] = true
	}

	today := truncateDay(s.now().In(s.cfg.Business.Location()))
	for _, d := range dates {
		day := model.FormatDate(d)
		if day <= model.FormatDate(today) {
			return fmt.Errorf("%w: 日期 %s 不可预约", ErrInvalidArgument, day)
		}
		if !allowed[d.Weekday()] {
			return fmt.Errorf("%w: %s 不是配送日", ErrInvalidArgument, day)
		}
	}
	return nil
}

func (s *ScheduleService) weekdays(ctx context.Context, productID int64) ([]time.Weekday, error) {
	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, translate(err)
	}
	if days := product.Weekdays(); len(days) > 0 {
		return days, nil
	}
	return model.ParseWeekdays(s.cfg.Business.DeliveryWeekdays), nil
}

func (s *ScheduleService) availableSeq(ctx context.Context, userID, productID int64, role Role) (iter.Seq[time.Time], error) {
	weekdays, err := s.weekdays(ctx, productID)
	if err != nil {
		return nil, err
	}

	taken, err := s.deliveryRepo.ListDates(ctx, userID, productID, []string{model.DeliveryStatusPending, model.DeliveryStatusComplete})
	if err != nil {
		return nil, translate(err)
	}
	scheduled := make(map[string]struct{}, len(taken))
	for _, d := range taken {
		scheduled[d] = struct{}{}
	}

	today := s.now().In(s.cfg.Business.Location())
	return AvailableDates(today, role, weekdays, scheduled, s.cfg.Business.ScheduleHorizonDays), nil
}

// AvailableDates 查询可预约日期
// month 形如 2025-03，为空表示不限月份；requiredCount > 0 时只返回最早的 requiredCount 天
func (s *ScheduleService) AvailableDates(ctx context.Context, userID, productID int64, role Role, month string, requiredCount int) ([]string, error) {
	if requiredCount < 0 {
		return nil, ErrInvalidArgument
	}
	seq, err := s.availableSeq(ctx, userID, productID, role)
	if err != nil {
		return nil, err
	}

	if month != "" {
		m, err := time.Parse("2006-01", month)
		if err != nil {
			return nil, fmt.Errorf("%w: month 格式应为 YYYY-MM", ErrInvalidArgument)
		}
		seq = InMonth(seq, m.Year(), m.Month())
	}

	dates := make([]string, 0)
	for d := range seq {
		dates = append(dates, model.FormatDate(d))
		if requiredCount > 0 && len(dates) == requiredCount {
			break
		}
	}
	return dates, nil
}

func (s *ScheduleService) ListDeliveries(ctx context.Context, filter repository.DeliveryFilter, page, pageSize int) (*Page[*model.Delivery], error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.deliveryRepo.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, translate(err)
	}
	return &Page[*model.Delivery]{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

// ParseDates 解析 YYYY-MM-DD 日期列表
func ParseDates(values []string, loc *time.Location) ([]time.Time, error) {
	dates := make([]time.Time, 0, len(values))
	for _, v := range values {
		d, err := model.ParseDate(v, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: 日期格式错误 %q", ErrInvalidArgument, v)
		}
		dates = append(dates, d)
	}
	return dates, nil
}
