// Package sideeffect доставляет побочные эффекты выпуска контракта через
// transactional outbox, не блокируя и не завися от результата платежа.
package sideeffect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const aggregateSubscription = "subscription"
const aggregatePayment = "payment_transaction"

// Dispatcher ставит события в outbox и будит worker. Вызовы не блокируются
// на выполнении самих эффектов.
type Dispatcher struct {
	outbox   domain.OutboxRepository
	fallback domain.OutboxPublisher
	wake     func()
	metrics  Metrics
	logger   *log.Entry
}

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWake задаёт функцию, которая будит outbox worker после постановки события.
func WithWake(wake func()) DispatcherOption {
	return func(d *Dispatcher) { d.wake = wake }
}

// WithFallback задаёт обработчик, который выполняется в отдельной горутине,
// если событие о платеже не удалось сохранить в outbox.
func WithFallback(p domain.OutboxPublisher) DispatcherOption {
	return func(d *Dispatcher) { d.fallback = p }
}

// WithDispatcherLogger задаёт логгер.
func WithDispatcherLogger(logger *log.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMetrics подключает метрики.
func WithDispatcherMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher создаёт диспетчер.
func NewDispatcher(outbox domain.OutboxRepository, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		outbox:  outbox,
		wake:    func() {},
		metrics: noopMetrics{},
		logger:  log.WithField("component", "side-effect-dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StageContractIssued пишет событие ContractIssued в транзакции выпуска
// контракта. ID события детерминирован по подписке: повторный выпуск не
// создаёт дубликат.
func (d *Dispatcher) StageContractIssued(ctx context.Context, sub domain.Subscription) error {
	payload, err := json.Marshal(domain.NewContractIssuedEvent(sub))
	if err != nil {
		return fmt.Errorf("marshal contract event: %w", err)
	}
	msg := domain.OutboxMessage{
		ID:            eventID(sub.ID, domain.OutboxEventContractIssued),
		AggregateType: aggregateSubscription,
		AggregateID:   sub.ID,
		EventType:     domain.OutboxEventContractIssued,
		Payload:       payload,
	}
	return d.outbox.Stage(ctx, msg)
}

// AfterContractIssued будит worker: событие уже зафиксировано вместе с контрактом.
func (d *Dispatcher) AfterContractIssued(_ context.Context, sub domain.Subscription) {
	d.logger.WithField("subscription_id", sub.ID).Debug("contract event committed")
	d.metrics.OutboxEvent()
	d.wake()
}

// AfterPaymentResolved ставит в outbox событие PaymentResolved.
func (d *Dispatcher) AfterPaymentResolved(_ context.Context, tx domain.PaymentTransaction) {
	payload, err := json.Marshal(domain.NewPaymentResolvedEvent(tx))
	if err != nil {
		d.logger.WithError(err).WithField("transaction_id", tx.ID).Error("marshal payment event failed")
		return
	}
	msg := domain.OutboxMessage{
		ID:            eventID(tx.ID, domain.OutboxEventPaymentResolved),
		AggregateType: aggregatePayment,
		AggregateID:   tx.ID,
		EventType:     domain.OutboxEventPaymentResolved,
		Payload:       payload,
	}
	d.dispatch(msg)
}

func (d *Dispatcher) dispatch(msg domain.OutboxMessage) {
	logger := d.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	if _, err := d.outbox.Enqueue(msg); err != nil {
		logger.WithError(err).Error("enqueue outbox event failed")
		if d.fallback != nil {
			go func() {
				if err := d.fallback.Publish(msg); err != nil {
					logger.WithError(err).Warn("direct side-effect delivery failed")
				}
			}()
		}
		return
	}
	d.metrics.OutboxEvent()
	d.wake()
}

func eventID(aggregateID, eventType string) string {
	return uuid.NewSHA1(effectNamespace, []byte(eventType+":"+aggregateID)).String()
}

var _ domain.ContractListener = (*Dispatcher)(nil)
