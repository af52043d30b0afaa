package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, log *zap.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log.Named("access")))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		// 网关回调不经过用户鉴权
		api.POST("/payments/webhook", h.PaymentWebhook)

		authed := api.Group("", IdentityMiddleware())

		payments := authed.Group("/payments")
		{
			payments.POST("/prepare", h.PreparePayment)
			payments.POST("/confirm", h.ConfirmPayment)
			payments.GET("", h.ListPayments)
			payments.GET("/:order_id", h.GetPayment)
		}

		deliveries := authed.Group("/deliveries")
		{
			deliveries.POST("/schedule", h.ScheduleDeliveries)
			deliveries.GET("", h.ListDeliveries)
			deliveries.GET("/available-dates", h.AvailableDates)
			deliveries.POST("/:id/status", h.TransitionDelivery)
		}

		credits := authed.Group("/credits")
		{
			credits.GET("/balance", h.GetBalance)
			credits.GET("/transactions", h.ListTransactions)
		}

		admin := authed.Group("/admin", RequireElevated())
		{
			admin.POST("/payments/:order_id/reconcile", h.ReconcilePayment)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
