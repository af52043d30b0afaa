package handler

import (
	"errors"
	"net/http"
	"strconv"

	"mealsub/internal/config"
	"mealsub/internal/model"
	"mealsub/internal/repository"
	"mealsub/internal/service"
	"mealsub/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg        *config.Config
	log        *zap.Logger
	ledger     *service.LedgerService
	schedule   *service.ScheduleService
	delivery   *service.DeliveryService
	settlement *service.SettlementService
}

// NewHandler 创建处理器实例
func NewHandler(svc *service.Services, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		log:        log.Named("http"),
		ledger:     svc.Ledger,
		schedule:   svc.Schedule,
		delivery:   svc.Delivery,
		settlement: svc.Settlement,
	}
}

// targetUser 管理员可通过 user_id 代他人操作，普通用户只能操作自己
func targetUser(c *gin.Context, requested int64) int64 {
	actor := actorFrom(c)
	if actor.Role.Elevated() && requested > 0 {
		return requested
	}
	return actor.UserID
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func (h *Handler) fail(c *gin.Context, err error) {
	code, _ := response.FromError(err)
	if code == response.CodeServerError || code == response.CodeUnavailable {
		h.log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.Fail(c, err)
}

// respondSettlement 已结算视为成功；其他失败仍返回当前支付状态
func (h *Handler) respondSettlement(c *gin.Context, result *service.SettlementResult, err error) {
	switch {
	case err == nil:
		response.Success(c, result)
	case errors.Is(err, service.ErrAlreadySettled) && result != nil:
		response.Success(c, result)
	case result != nil:
		code, message := response.FromError(err)
		response.ErrorWithData(c, code, message, result)
	default:
		h.fail(c, err)
	}
}

// ============================================================
// 支付相关接口
// ============================================================

type PrepareRequest struct {
	ProductID     int64    `json:"product_id" binding:"required"`
	DeliveryDates []string `json:"delivery_dates"`
}

// PreparePayment 创建支付单
// POST /api/v1/payments/prepare
func (h *Handler) PreparePayment(c *gin.Context) {
	var req PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	dates, err := service.ParseDates(req.DeliveryDates, h.cfg.Business.Location())
	if err != nil {
		h.fail(c, err)
		return
	}

	actor := actorFrom(c)
	result, err := h.settlement.Prepare(c.Request.Context(), &service.PrepareRequest{
		UserID:    actor.UserID,
		ProductID: req.ProductID,
		Dates:     dates,
		Role:      actor.Role,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type ConfirmRequest struct {
	OrderID        string   `json:"order_id" binding:"required"`
	PaymentKey     string   `json:"payment_key" binding:"required"`
	Amount         int64    `json:"amount" binding:"required,gt=0"`
	DeliveryDates  []string `json:"delivery_dates"`
	SpecialRequest string   `json:"special_request" binding:"max=512"`
}

// ConfirmPayment 同步确认支付
// POST /api/v1/payments/confirm
//
// 网关调用失败可用同一 order_id 重试；重复确认返回 already_settled
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	dates, err := service.ParseDates(req.DeliveryDates, h.cfg.Business.Location())
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.settlement.Confirm(c.Request.Context(), &service.ConfirmRequest{
		OrderID:        req.OrderID,
		PaymentKey:     req.PaymentKey,
		Amount:         req.Amount,
		Dates:          dates,
		SpecialRequest: req.SpecialRequest,
		Actor:          actorFrom(c),
	})
	h.respondSettlement(c, result, err)
}

// GetPayment 查询支付单
// GET /api/v1/payments/:order_id
func (h *Handler) GetPayment(c *gin.Context) {
	detail, err := h.settlement.GetPayment(c.Request.Context(), c.Param("order_id"), actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, detail)
}

// ListPayments 查询支付单列表
// GET /api/v1/payments?page=1&page_size=20
func (h *Handler) ListPayments(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.settlement.ListPayments(c.Request.Context(), targetUser(c, userID), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// PaymentWebhook 网关回调
// POST /api/v1/payments/webhook
//
// 使用真实 HTTP 状态码：报文错误 400，落库失败 503（网关会重试），其余一律 200
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Code: response.CodeParamError, Message: "读取请求体失败"})
		return
	}

	outcome, err := h.settlement.HandleWebhook(c.Request.Context(), body)
	if err != nil {
		code, message := response.FromError(err)
		h.log.Warn("回调未受理", zap.Error(err))
		c.JSON(response.HTTPStatus(err), response.Response{Code: code, Message: message})
		return
	}
	c.JSON(http.StatusOK, response.Response{Code: response.CodeSuccess, Message: "success", Data: outcome})
}

// ReconcilePayment 管理员手动触发向网关查询并收敛支付状态
// POST /api/v1/admin/payments/:order_id/reconcile
func (h *Handler) ReconcilePayment(c *gin.Context) {
	result, err := h.settlement.Reconcile(c.Request.Context(), c.Param("order_id"))
	h.respondSettlement(c, result, err)
}

// ============================================================
// 配送相关接口
// ============================================================

type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// TransitionDelivery 变更配送状态
// POST /api/v1/deliveries/:id/status
//
// 只有管理员可以标记完成；普通用户只能取消自己的配送
func (h *Handler) TransitionDelivery(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	actor := actorFrom(c)
	if !actor.Role.Elevated() {
		if req.Status == model.DeliveryStatusComplete {
			response.Forbidden(c, "无权限")
			return
		}
		d, err := h.delivery.GetDelivery(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		if d.UserID != actor.UserID {
			h.fail(c, service.ErrNotFound)
			return
		}
	}

	delivery, err := h.delivery.Transition(c.Request.Context(), id, req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, delivery)
}

type ScheduleRequest struct {
	UserID         int64    `json:"user_id"`
	ProductID      int64    `json:"product_id" binding:"required"`
	DeliveryDates  []string `json:"delivery_dates"`
	Count          int      `json:"count" binding:"gte=0"`
	SpecialRequest string   `json:"special_request" binding:"max=512"`
}

// ScheduleDeliveries 使用剩余次数预约配送
// POST /api/v1/deliveries/schedule
//
// 指定 delivery_dates 时按指定日期预约，否则按 count 自动选择最近的可预约日期
func (h *Handler) ScheduleDeliveries(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	dates, err := service.ParseDates(req.DeliveryDates, h.cfg.Business.Location())
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.schedule.Schedule(c.Request.Context(), &service.ScheduleRequest{
		UserID:         targetUser(c, req.UserID),
		ProductID:      req.ProductID,
		Dates:          dates,
		Count:          req.Count,
		Role:           actorFrom(c).Role,
		SpecialRequest: req.SpecialRequest,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ListDeliveries 查询配送记录
// GET /api/v1/deliveries?product_id=1&status=pending&date_from=2025-03-01&date_to=2025-03-31
func (h *Handler) ListDeliveries(c *gin.Context) {
	userID, ok1 := queryInt64(c, "user_id")
	productID, ok2 := queryInt64(c, "product_id")
	if !ok1 || !ok2 {
		response.ParamError(c, "user_id / product_id 参数错误")
		return
	}
	status := c.Query("status")
	if status != "" && !model.IsDeliveryStatus(status) {
		response.ParamError(c, "status 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filter := repository.DeliveryFilter{
		UserID:    targetUser(c, userID),
		ProductID: productID,
		Status:    status,
		BatchNo:   c.Query("batch_no"),
		DateFrom:  c.Query("date_from"),
		DateTo:    c.Query("date_to"),
	}
	result, err := h.schedule.ListDeliveries(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// AvailableDates 查询可预约日期
// GET /api/v1/deliveries/available-dates?product_id=1&month=2025-03&count=5
func (h *Handler) AvailableDates(c *gin.Context) {
	userID, ok1 := queryInt64(c, "user_id")
	productID, ok2 := queryInt64(c, "product_id")
	if !ok1 || !ok2 || productID <= 0 {
		response.ParamError(c, "product_id 参数错误")
		return
	}
	count, err := strconv.Atoi(c.DefaultQuery("count", "0"))
	if err != nil {
		response.ParamError(c, "count 参数错误")
		return
	}

	dates, err := h.schedule.AvailableDates(c.Request.Context(), targetUser(c, userID), productID, actorFrom(c).Role, c.Query("month"), count)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"dates": dates,
		"count": len(dates),
	})
}

// ============================================================
// 次数相关接口
// ============================================================

// GetBalance 查询剩余次数及流水汇总
// GET /api/v1/credits/balance?product_id=1
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok1 := queryInt64(c, "user_id")
	productID, ok2 := queryInt64(c, "product_id")
	if !ok1 || !ok2 || productID <= 0 {
		response.ParamError(c, "product_id 参数错误")
		return
	}

	summary, err := h.ledger.Summary(c.Request.Context(), targetUser(c, userID), productID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, summary)
}

// ListTransactions 查询次数流水
// GET /api/v1/credits/transactions?product_id=1&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok1 := queryInt64(c, "user_id")
	productID, ok2 := queryInt64(c, "product_id")
	if !ok1 || !ok2 || productID <= 0 {
		response.ParamError(c, "product_id 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.ledger.ListTransactions(c.Request.Context(), targetUser(c, userID), productID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}
