package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 业务指标。方法对 nil 接收者安全，未注入时直接跳过
type Metrics struct {
	settlements         *prometheus.CounterVec
	webhookEvents       *prometheus.CounterVec
	deliveryTransitions *prometheus.CounterVec
	debitRejected       prometheus.Counter
	notifications       *prometheus.CounterVec
	outboxSent          *prometheus.CounterVec
}

// New 创建并注册指标，registerer 为 nil 时使用默认注册表
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsub_settlement_total",
			Help: "Payment settlement attempts by path and outcome.",
		}, []string{"path", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsub_webhook_events_total",
			Help: "Gateway webhook events received by gateway status.",
		}, []string{"status"}),
		deliveryTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsub_delivery_transition_total",
			Help: "Delivery status transitions by target status and result.",
		}, []string{"to", "result"}),
		debitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mealsub_credit_debit_rejected_total",
			Help: "Schedule requests rejected for insufficient credit.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsub_notification_total",
			Help: "Notification dispatches by kind and result.",
		}, []string{"kind", "result"}),
		outboxSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsub_outbox_relay_total",
			Help: "Outbox messages relayed by result.",
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.settlements,
		m.webhookEvents,
		m.deliveryTransitions,
		m.debitRejected,
		m.notifications,
		m.outboxSent,
	)
	return m
}

func (m *Metrics) RecordSettlement(path, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) RecordWebhook(status string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordDeliveryTransition(to string, err error) {
	if m == nil {
		return
	}
	m.deliveryTransitions.WithLabelValues(to, result(err)).Inc()
}

func (m *Metrics) RecordDebitRejected() {
	if m == nil {
		return
	}
	m.debitRejected.Inc()
}

func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) RecordOutboxRelay(err error) {
	if m == nil {
		return
	}
	m.outboxSent.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
