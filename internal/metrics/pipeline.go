// Package metrics содержит Prometheus-метрики платёжного конвейера и активации полисов.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// PipelineMetrics содержит метрики платёжных сессий, подписок и побочных эффектов.
type PipelineMetrics struct {
	// Платежи
	sessionsCreated      *prometheus.CounterVec
	transactionsResolved *prometheus.CounterVec
	providerCalls        *prometheus.HistogramVec
	otpRejected          *prometheus.CounterVec

	// Подписки
	transitions       *prometheus.CounterVec
	contractsIssued   prometheus.Counter
	promotionDuration prometheus.Histogram

	// Побочные эффекты
	sideEffectFailures *prometheus.CounterVec
	timelineEvents     prometheus.Counter
	outboxEvents       prometheus.Counter
}

// NewPipelineMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineMetricsWithRegisterer регистрирует метрики в указанном реестре.
func NewPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		sessionsCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "policyhub_payment_sessions_total",
			Help: "Total number of payment sessions opened",
		}, []string{"provider"}),
		transactionsResolved: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "policyhub_payment_transactions_resolved_total",
			Help: "Total number of payment transactions that reached a terminal status",
		}, []string{"provider", "status"}),
		providerCalls: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "policyhub_provider_call_duration_seconds",
			Help:    "Duration of payment provider calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"provider", "operation", "result"}),
		otpRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "policyhub_otp_rejected_total",
			Help: "Total number of rejected one-time codes",
		}, []string{"reason"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "policyhub_subscription_transitions_total",
			Help: "Total number of subscription status transitions",
		}, []string{"status"}),
		contractsIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "policyhub_contracts_issued_total",
			Help: "Total number of contracts issued with a policy number",
		}),
		promotionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "policyhub_contract_promotion_duration_seconds",
			Help:    "Duration of contract promotion under row lock in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		sideEffectFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "policyhub_side_effect_failures_total",
			Help: "Total number of failed contract side effects",
		}, []string{"effect"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "policyhub_timeline_events_total",
			Help: "Total number of subscription timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "policyhub_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

// SessionCreated учитывает открытую платёжную сессию.
func (m *PipelineMetrics) SessionCreated(provider string) {
	m.sessionsCreated.WithLabelValues(provider).Inc()
}

// TransactionResolved учитывает закрытие записи реестра.
func (m *PipelineMetrics) TransactionResolved(provider string, status domain.TransactionStatus) {
	m.transactionsResolved.WithLabelValues(provider, string(status)).Inc()
}

// ProviderCall записывает длительность вызова провайдера.
func (m *PipelineMetrics) ProviderCall(provider, operation string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerCalls.WithLabelValues(provider, operation, result).Observe(elapsed.Seconds())
}

// OtpRejected учитывает отклонённый код.
func (m *PipelineMetrics) OtpRejected(reason string) {
	m.otpRejected.WithLabelValues(reason).Inc()
}

// SubscriptionTransition учитывает переход подписки в status.
func (m *PipelineMetrics) SubscriptionTransition(status domain.SubscriptionStatus) {
	m.transitions.WithLabelValues(string(status)).Inc()
}

// ContractIssued учитывает выпуск контракта и длительность продвижения.
func (m *PipelineMetrics) ContractIssued(elapsed time.Duration) {
	m.contractsIssued.Inc()
	m.promotionDuration.Observe(elapsed.Seconds())
}

// SideEffectFailed учитывает сбой побочного эффекта.
func (m *PipelineMetrics) SideEffectFailed(effect string) {
	m.sideEffectFailures.WithLabelValues(effect).Inc()
}

// TimelineEvent увеличивает счётчик событий timeline.
func (m *PipelineMetrics) TimelineEvent() {
	m.timelineEvents.Inc()
}

// OutboxEvent увеличивает счётчик событий outbox.
func (m *PipelineMetrics) OutboxEvent() {
	m.outboxEvents.Inc()
}
