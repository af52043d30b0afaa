package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mealsub/internal/config"
	"mealsub/internal/gateway"
	"mealsub/internal/infrastructure/lock"
	"mealsub/internal/infrastructure/metrics"
	"mealsub/internal/model"
	"mealsub/internal/repository"
	"mealsub/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 结算入口，用于日志与指标
const (
	PathConfirm = "confirm"
	PathWebhook = "webhook"
	PathSweeper = "sweeper"
)

// SettlementService 支付结算
// 同步确认、网关回调、超时扫描三条路径共用同一个状态机，按订单号加锁互斥
type SettlementService struct {
	db          *gorm.DB
	cfg         *config.Config
	log         *zap.Logger
	locker      lock.Locker
	gw          gateway.Client
	metrics     *metrics.Metrics
	now         func() time.Time
	ledger      *LedgerService
	schedule    *ScheduleService
	paymentRepo *repository.PaymentRepository
	productRepo *repository.ProductRepository
	outboxRepo  *repository.OutboxRepository
	webhookRepo *repository.WebhookEventRepository
}

func NewSettlementService(d Deps, ledger *LedgerService, schedule *ScheduleService) *SettlementService {
	return &SettlementService{
		db:          d.DB,
		cfg:         d.Config,
		log:         d.Log.Named("settlement"),
		locker:      d.Locker,
		gw:          d.Gateway,
		metrics:     d.Metrics,
		now:         d.now,
		ledger:      ledger,
		schedule:    schedule,
		paymentRepo: repository.NewPaymentRepository(d.DB),
		productRepo: repository.NewProductRepository(d.DB),
		outboxRepo:  repository.NewOutboxRepository(d.DB),
		webhookRepo: repository.NewWebhookEventRepository(d.DB),
	}
}

type PrepareRequest struct {
	UserID    int64
	ProductID int64
	Dates     []time.Time // 可选，客户选择的配送日期，结算后按此预约
	Role      Role
}

type PrepareResult struct {
	OrderID        string   `json:"order_id"`
	Amount         int64    `json:"amount"`
	OrderName      string   `json:"order_name"`
	CustomerKey    string   `json:"customer_key"`
	ClientKey      string   `json:"client_key"`
	SuccessURL     string   `json:"success_url"`
	FailURL        string   `json:"fail_url"`
	RequestedDates []string `json:"requested_dates,omitempty"`
}

type ConfirmRequest struct {
	OrderID        string
	PaymentKey     string
	Amount         int64
	Dates          []time.Time
	SpecialRequest string
	Actor          Actor
}

type SettlementResult struct {
	OrderID        string          `json:"order_id"`
	PaymentStatus  string          `json:"payment_status"`
	AlreadySettled bool            `json:"already_settled"`
	FailureCode    string          `json:"failure_code,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	Schedule       *ScheduleResult `json:"schedule,omitempty"`
}

// gatewayUpdate 一次网关侧状态变化及其附带信息
type gatewayUpdate struct {
	path           string
	status         string
	amount         int64
	paymentKey     string
	raw            []byte
	dates          []time.Time
	role           Role
	specialRequest string
}

// Prepare 创建待支付订单，返回前端拉起网关支付所需参数
func (s *SettlementService) Prepare(ctx context.Context, req *PrepareRequest) (*PrepareResult, error) {
	if req.UserID <= 0 || req.ProductID <= 0 {
		return nil, ErrInvalidArgument
	}

	product, err := s.productRepo.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, translate(err)
	}
	if !product.IsActive || product.Price <= 0 {
		return nil, ErrProductUnavailable
	}

	if err := s.checkDates(ctx, product, req.Role, req.Dates); err != nil {
		return nil, err
	}
	var requested []string
	for _, d := range req.Dates {
		requested = append(requested, model.FormatDate(d))
	}

	payment := &model.Payment{
		OrderID:        idgen.GenerateOrderNo(),
		UserID:         req.UserID,
		ProductID:      req.ProductID,
		Amount:         product.Price,
		Status:         model.PaymentStatusPending,
		RequestedDates: strings.Join(requested, ","),
	}
	if err := s.paymentRepo.Create(ctx, nil, payment); err != nil {
		return nil, translate(err)
	}

	s.log.Info("创建支付单",
		zap.String("order_id", payment.OrderID),
		zap.Int64("user_id", req.UserID),
		zap.Int64("product_id", req.ProductID),
		zap.Int64("amount", payment.Amount))

	return &PrepareResult{
		OrderID:        payment.OrderID,
		Amount:         payment.Amount,
		OrderName:      product.Name,
		CustomerKey:    "user_" + strconv.FormatInt(req.UserID, 10),
		ClientKey:      s.cfg.Gateway.ClientKey,
		SuccessURL:     s.cfg.Gateway.SuccessURL,
		FailURL:        s.cfg.Gateway.FailURL,
		RequestedDates: requested,
	}, nil
}

// Confirm 同步确认支付
// 先校验金额再调用网关；网关调用失败时订单进入 approval_api_failed，可用同一订单号重试
func (s *SettlementService) Confirm(ctx context.Context, req *ConfirmRequest) (*SettlementResult, error) {
	if req.OrderID == "" || req.PaymentKey == "" || req.Amount <= 0 {
		return nil, ErrInvalidArgument
	}

	release, err := s.locker.Acquire(ctx, lock.SettlementKey(req.OrderID))
	if err != nil {
		return nil, fmt.Errorf("%w: 获取结算锁失败: %v", ErrStorageUnavailable, err)
	}
	defer release()

	payment, err := s.paymentRepo.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, translate(err)
	}
	if !req.Actor.Role.Elevated() && payment.UserID != req.Actor.UserID {
		return nil, ErrNotFound
	}

	log := s.log.With(zap.String("order_id", req.OrderID), zap.String("path", PathConfirm))

	if model.IsPaymentSettled(payment.Status) {
		s.metrics.RecordSettlement(PathConfirm, "already_settled")
		return &SettlementResult{OrderID: payment.OrderID, PaymentStatus: payment.Status, AlreadySettled: true}, ErrAlreadySettled
	}
	if payment.Status == model.PaymentStatusVbankReady || payment.Status == model.PaymentStatusVbankExpired {
		return nil, fmt.Errorf("%w: 虚拟账户订单等待入金回调", ErrInvalidTransition)
	}

	if req.Amount != payment.Amount {
		log.Warn("确认金额与订单金额不一致", zap.Int64("expected", payment.Amount), zap.Int64("actual", req.Amount))
		return s.apply(ctx, payment, gatewayUpdate{
			path:   PathConfirm,
			status: gateway.StatusDone,
			amount: req.Amount,
		})
	}

	// 日期不合法时在扣款前拒绝，订单保持原状态可重新确认
	if len(req.Dates) > 0 {
		product, err := s.productRepo.GetByID(ctx, payment.ProductID)
		if err != nil {
			return nil, translate(err)
		}
		if err := s.checkDates(ctx, product, req.Actor.Role, req.Dates); err != nil {
			return nil, err
		}
	}

	res, err := s.gw.Approve(ctx, gateway.ApproveRequest{
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderID,
		Amount:     req.Amount,
	})
	if err != nil {
		log.Error("网关确认失败", zap.Error(err))
		if _, terr := s.transit(ctx, payment, model.PaymentStatusApprovalAPIFailed, gatewayUpdate{path: PathConfirm, paymentKey: req.PaymentKey}, nil); terr != nil && !errors.Is(terr, ErrAlreadySettled) {
			log.Error("记录网关失败状态失败", zap.Error(terr))
		}
		s.metrics.RecordSettlement(PathConfirm, model.PaymentStatusApprovalAPIFailed)
		return &SettlementResult{OrderID: payment.OrderID, PaymentStatus: model.PaymentStatusApprovalAPIFailed}, fmt.Errorf("%w: %v", ErrGatewayCallFailed, err)
	}

	update := gatewayUpdate{
		path:           PathConfirm,
		status:         res.Status,
		amount:         res.TotalAmount,
		paymentKey:     firstNonEmpty(res.PaymentKey, req.PaymentKey),
		raw:            res.Raw,
		dates:          req.Dates,
		role:           req.Actor.Role,
		specialRequest: req.SpecialRequest,
	}
	if res.Rejected() {
		log.Warn("网关拒绝支付", zap.String("code", res.FailureCode), zap.String("message", res.FailureMessage))
		update.status = gateway.StatusAborted
		result, err := s.apply(ctx, payment, update)
		if result != nil {
			result.FailureCode = res.FailureCode
			result.FailureMessage = res.FailureMessage
		}
		return result, err
	}
	return s.apply(ctx, payment, update)
}

// checkDates 客户指定的日期数不能超过本次购买的次数，且须满足角色对应的预约规则
func (s *SettlementService) checkDates(ctx context.Context, product *model.Product, role Role, dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}
	if int64(len(dates)) > product.DeliveryCount {
		return fmt.Errorf("%w: 最多选择 %d 个配送日", ErrInvalidArgument, product.DeliveryCount)
	}
	return s.schedule.validateDates(ctx, product.ID, role, dates)
}

type WebhookOutcome struct {
	EventID         int64             `json:"event_id"`
	OrderID         string            `json:"order_id"`
	Result          *SettlementResult `json:"result,omitempty"`
	ProcessingError string            `json:"processing_error,omitempty"`
}

// HandleWebhook 网关回调
// 报文无法解析返回 ErrInvalidArgument；落库失败返回 ErrStorageUnavailable 由网关重试；
// 落库之后的处理错误记录在回调记录上，不再返回给网关
func (s *SettlementService) HandleWebhook(ctx context.Context, payload []byte) (*WebhookOutcome, error) {
	event, err := gateway.ParseWebhook(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	record := &model.WebhookEvent{
		OrderID:       event.OrderID,
		GatewayStatus: event.Status,
		Payload:       datatypes.JSON(payload),
	}
	if err := s.webhookRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: 保存回调记录失败: %v", ErrStorageUnavailable, err)
	}
	s.metrics.RecordWebhook(event.Status)

	result, perr := s.ProcessEvent(ctx, event)
	outcome := &WebhookOutcome{EventID: record.ID, OrderID: event.OrderID, Result: result}
	if perr != nil && !errors.Is(perr, ErrAlreadySettled) {
		outcome.ProcessingError = perr.Error()
		s.log.Warn("回调处理失败",
			zap.Int64("event_id", record.ID),
			zap.String("order_id", event.OrderID),
			zap.String("gateway_status", event.Status),
			zap.Error(perr))
	}

	if err := s.webhookRepo.MarkProcessed(ctx, record.ID, outcome.ProcessingError); err != nil {
		s.log.Error("更新回调记录失败", zap.Int64("event_id", record.ID), zap.Error(err))
	}
	if retryable(perr) {
		return outcome, perr
	}
	return outcome, nil
}

// retryable 暂时性错误需要网关重发回调；支付已完成仅预约失败时重发也无法补救，不在此列
func retryable(err error) bool {
	if err == nil || errors.Is(err, ErrScheduleFailed) {
		return false
	}
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrGatewayCallFailed)
}

// ProcessEvent 应用一条网关事件
// 回调未携带金额时向网关查询，以网关返回为准
func (s *SettlementService) ProcessEvent(ctx context.Context, event *gateway.Event) (*SettlementResult, error) {
	release, err := s.locker.Acquire(ctx, lock.SettlementKey(event.OrderID))
	if err != nil {
		return nil, fmt.Errorf("%w: 获取结算锁失败: %v", ErrStorageUnavailable, err)
	}
	defer release()

	payment, err := s.paymentRepo.GetByOrderID(ctx, event.OrderID)
	if err != nil {
		return nil, translate(err)
	}

	update := gatewayUpdate{
		path:       PathWebhook,
		status:     event.Status,
		amount:     event.Amount,
		paymentKey: event.PaymentKey,
		raw:        event.Raw,
		role:       RoleStandard,
	}
	if event.Status == gateway.StatusDone && event.Amount == 0 {
		res, err := s.gw.Query(ctx, event.OrderID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayCallFailed, err)
		}
		update.status = res.Status
		update.amount = res.TotalAmount
		update.paymentKey = firstNonEmpty(res.PaymentKey, event.PaymentKey)
		update.raw = res.Raw
	}
	return s.apply(ctx, payment, update)
}

// Reconcile 向网关查询长时间未结算的订单并收敛状态
// 网关侧已完成则按正常流程结算，未支付或查无此单则置为失败；
// 虚拟账户订单仍在等待入金时保持原状态，网关侧已失效则置为过期
func (s *SettlementService) Reconcile(ctx context.Context, orderID string) (*SettlementResult, error) {
	release, err := s.locker.Acquire(ctx, lock.SettlementKey(orderID))
	if err != nil {
		return nil, fmt.Errorf("%w: 获取结算锁失败: %v", ErrStorageUnavailable, err)
	}
	defer release()

	payment, err := s.paymentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !isAwaitingApproval(payment.Status) {
		return &SettlementResult{OrderID: orderID, PaymentStatus: payment.Status, AlreadySettled: true}, nil
	}

	res, err := s.gw.Query(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayCallFailed, err)
	}

	update := gatewayUpdate{
		path:       PathSweeper,
		status:     res.Status,
		amount:     res.TotalAmount,
		paymentKey: res.PaymentKey,
		raw:        res.Raw,
		role:       RoleStandard,
	}
	if payment.Status == model.PaymentStatusVbankReady {
		switch {
		case res.Status == gateway.StatusWaitingForDeposit:
			if err := s.paymentRepo.Touch(ctx, orderID); err != nil {
				return nil, translate(err)
			}
			return &SettlementResult{OrderID: orderID, PaymentStatus: payment.Status}, nil
		case res.Rejected(), res.Status == gateway.StatusReady, res.Status == gateway.StatusInProgress:
			update.status = gateway.StatusExpired
		}
		return s.apply(ctx, payment, update)
	}

	switch {
	case res.Rejected(), res.Status == gateway.StatusReady, res.Status == gateway.StatusInProgress:
		update.status = gateway.StatusAborted
	}
	return s.apply(ctx, payment, update)
}

// StalePayments 超过支付时限仍未结算的订单
func (s *SettlementService) StalePayments(ctx context.Context, limit int) ([]*model.Payment, error) {
	timeout := time.Duration(s.cfg.Business.PaymentTimeoutMinutes) * time.Minute
	before := s.now().Add(-timeout)
	payments, err := s.paymentRepo.ListStale(ctx, awaitingApproval, before, limit)
	if err != nil {
		return nil, translate(err)
	}
	return payments, nil
}

// awaitingApproval 尚未收到网关终态的状态；虚拟账户入金回调可能处理失败，同样需要扫描
var awaitingApproval = []string{
	model.PaymentStatusPending,
	model.PaymentStatusReady,
	model.PaymentStatusApprovalAPIFailed,
	model.PaymentStatusVbankReady,
}

func isAwaitingApproval(status string) bool {
	for _, st := range awaitingApproval {
		if st == status {
			return true
		}
	}
	return false
}

// apply 把网关状态映射为本地状态并执行变更，调用方需持有订单锁
func (s *SettlementService) apply(ctx context.Context, payment *model.Payment, u gatewayUpdate) (*SettlementResult, error) {
	target, err := mapGatewayStatus(u.status, payment.Status)
	if err != nil {
		return nil, err
	}

	var product *model.Product
	if target == model.PaymentStatusCompleted {
		if u.amount != payment.Amount {
			target = model.PaymentStatusAuthSignatureMismatch
		} else if product, err = s.productRepo.GetByID(ctx, payment.ProductID); err != nil {
			return nil, translate(err)
		}
	}

	updated, err := s.transit(ctx, payment, target, u, product)
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			s.metrics.RecordSettlement(u.path, "already_settled")
			return &SettlementResult{OrderID: updated.OrderID, PaymentStatus: updated.Status, AlreadySettled: true}, err
		}
		s.metrics.RecordSettlement(u.path, "error")
		return nil, err
	}

	s.metrics.RecordSettlement(u.path, target)
	s.log.Info("支付状态变更",
		zap.String("order_id", payment.OrderID),
		zap.String("path", u.path),
		zap.String("from", payment.Status),
		zap.String("to", target))

	result := &SettlementResult{OrderID: updated.OrderID, PaymentStatus: updated.Status}
	switch target {
	case model.PaymentStatusAuthSignatureMismatch:
		return result, fmt.Errorf("%w: 订单金额 %d，实际金额 %d", ErrAmountMismatch, payment.Amount, u.amount)
	case model.PaymentStatusCompleted:
		sr, err := s.scheduleAfterSettlement(ctx, updated, product, u)
		if err != nil {
			s.metrics.RecordSettlement(u.path, "schedule_failed")
			s.log.Error("支付已完成但配送预约失败",
				zap.String("order_id", updated.OrderID),
				zap.Error(err))
			return result, fmt.Errorf("%w: %w", ErrScheduleFailed, err)
		}
		result.Schedule = sr
	}
	return result, nil
}

// transit 单个事务内完成状态变更及其附带的记账、消息
// 首次变为 completed 时充值，保证每笔支付最多充值一次
func (s *SettlementService) transit(ctx context.Context, payment *model.Payment, target string, u gatewayUpdate, product *model.Product) (*model.Payment, error) {
	var current *model.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		p, err := s.paymentRepo.GetByOrderIDForUpdate(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		current = p

		if p.Status == target || (model.IsPaymentSettled(p.Status) && !model.CanPaymentTransitionTo(p.Status, target)) {
			return ErrAlreadySettled
		}
		if !model.CanPaymentTransitionTo(p.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
		}

		extra := repository.PaymentUpdate{GatewayTransactionID: u.paymentKey}
		if len(u.raw) > 0 {
			extra.RawGatewayPayload = datatypes.JSON(u.raw)
		}
		if target == model.PaymentStatusCompleted {
			paidAt := s.now()
			extra.PaidAt = &paidAt
		}
		from := p.Status
		if err := s.paymentRepo.UpdateStatus(ctx, tx, p.OrderID, from, target, extra); err != nil {
			return err
		}
		p.Status = target
		if extra.GatewayTransactionID != "" {
			p.GatewayTransactionID = extra.GatewayTransactionID
		}
		if extra.PaidAt != nil {
			p.PaidAt = extra.PaidAt
		}

		var eventType string
		payload := map[string]interface{}{
			"order_id":   p.OrderID,
			"user_id":    p.UserID,
			"product_id": p.ProductID,
			"amount":     p.Amount,
			"status":     target,
		}
		switch {
		case target == model.PaymentStatusCompleted:
			if product != nil && product.DeliveryCount > 0 {
				if _, err := s.ledger.Credit(ctx, tx, p.UserID, p.ProductID, product.DeliveryCount, p.OrderID); err != nil {
					return fmt.Errorf("充值配送次数失败: %w", err)
				}
				payload["credited"] = product.DeliveryCount
			}
			eventType = model.EventPaymentSettled
		case target == model.PaymentStatusAuthSignatureMismatch:
			payload["reported_amount"] = u.amount
			eventType = model.EventPaymentAmountMismatch
		case target == model.PaymentStatusCancelled && from == model.PaymentStatusCompleted:
			eventType = model.EventPaymentCancelled
		}
		if eventType == "" {
			return nil
		}

		msg, err := model.NewOutboxMessage(s.cfg.Kafka.Topic.PaymentEvent, eventType, p.OrderID, payload)
		if err != nil {
			return err
		}
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return current, translate(err)
	}
	return current, nil
}

// scheduleAfterSettlement 结算完成后预约配送
// 日期优先级：确认请求指定 > 下单时选择 > 自动选择 delivery_count 天
func (s *SettlementService) scheduleAfterSettlement(ctx context.Context, payment *model.Payment, product *model.Product, u gatewayUpdate) (*ScheduleResult, error) {
	req := &ScheduleRequest{
		UserID:         payment.UserID,
		ProductID:      payment.ProductID,
		Dates:          u.dates,
		Role:           u.role,
		SpecialRequest: u.specialRequest,
		ReferenceNo:    payment.OrderID,
	}
	if len(req.Dates) == 0 {
		dates, err := ParseDates(payment.RequestedDateList(), s.cfg.Business.Location())
		if err != nil {
			return nil, err
		}
		req.Dates = dates
	}
	if len(req.Dates) == 0 && product != nil {
		req.Count = int(product.DeliveryCount)
	}
	return s.schedule.Schedule(ctx, req)
}

// mapGatewayStatus 网关状态到本地支付状态
func mapGatewayStatus(gatewayStatus, current string) (string, error) {
	switch gatewayStatus {
	case gateway.StatusDone:
		return model.PaymentStatusCompleted, nil
	case gateway.StatusWaitingForDeposit:
		return model.PaymentStatusVbankReady, nil
	case gateway.StatusExpired:
		if current == model.PaymentStatusVbankReady || current == model.PaymentStatusVbankExpired {
			return model.PaymentStatusVbankExpired, nil
		}
		return model.PaymentStatusFailed, nil
	case gateway.StatusCanceled, gateway.StatusPartialCanceled:
		return model.PaymentStatusCancelled, nil
	case gateway.StatusAborted:
		return model.PaymentStatusFailed, nil
	case gateway.StatusReady, gateway.StatusInProgress:
		return model.PaymentStatusReady, nil
	}
	return "", fmt.Errorf("%w: 未知的网关状态 %q", ErrInvalidArgument, gatewayStatus)
}

type PaymentDetail struct {
	*model.Payment
	WebhookEvents []*model.WebhookEvent `json:"webhook_events,omitempty"`
}

// GetPayment 普通用户只能查询自己的订单；管理员可同时看到回调记录
func (s *SettlementService) GetPayment(ctx context.Context, orderID string, actor Actor) (*PaymentDetail, error) {
	payment, err := s.paymentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !actor.Role.Elevated() && payment.UserID != actor.UserID {
		return nil, ErrNotFound
	}

	detail := &PaymentDetail{Payment: payment}
	if actor.Role.Elevated() {
		events, err := s.webhookRepo.ListByOrderID(ctx, orderID)
		if err != nil {
			return nil, translate(err)
		}
		detail.WebhookEvents = events
	}
	return detail, nil
}

func (s *SettlementService) ListPayments(ctx context.Context, userID int64, page, pageSize int) (*Page[*model.Payment], error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.paymentRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, translate(err)
	}
	return &Page[*model.Payment]{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
