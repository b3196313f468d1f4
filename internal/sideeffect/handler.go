package sideeffect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const defaultHandlerTimeout = 10 * time.Second

// Пространство имён для детерминированных идентификаторов побочных эффектов:
// повторная доставка события даёт те же ID.
var effectNamespace = uuid.MustParse("8f0c5a52-51b4-4c55-9d57-4f3a2f1f7f10")

// Metrics собирает метрики побочных эффектов.
type Metrics interface {
	SideEffectFailed(effect string)
	OutboxEvent()
}

type noopMetrics struct{}

func (noopMetrics) SideEffectFailed(string) {}
func (noopMetrics) OutboxEvent()            {}

// Handler выполняет побочные эффекты выпуска контракта: уведомление клиента
// и начисление агенту. Эффекты независимы друг от друга; повторная доставка
// события безопасна.
type Handler struct {
	notifications domain.NotificationRepository
	commissions   domain.CommissionRepository
	sender        domain.NotificationSender
	rates         CommissionRates
	metrics       Metrics
	logger        *log.Entry
	timeout       time.Duration
	now           func() time.Time
}

// HandlerOption настраивает Handler.
type HandlerOption func(*Handler)

// WithSender включает доставку уведомлений клиенту (SMS).
func WithSender(sender domain.NotificationSender) HandlerOption {
	return func(h *Handler) { h.sender = sender }
}

// WithHandlerLogger задаёт логгер.
func WithHandlerLogger(logger *log.Entry) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHandlerMetrics подключает метрики.
func WithHandlerMetrics(m Metrics) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithTimeout ограничивает время обработки одного события.
func WithTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// NewHandler создаёт обработчик событий outbox.
func NewHandler(notifications domain.NotificationRepository, commissions domain.CommissionRepository, rates CommissionRates, opts ...HandlerOption) *Handler {
	h := &Handler{
		notifications: notifications,
		commissions:   commissions,
		rates:         rates,
		metrics:       noopMetrics{},
		logger:        log.WithField("component", "side-effects"),
		timeout:       defaultHandlerTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish обрабатывает событие outbox. События других типов пропускаются.
// Ошибка возвращается, чтобы worker повторил доставку; уже выполненные
// эффекты при повторе не дублируются.
func (h *Handler) Publish(event domain.OutboxMessage) error {
	if event.EventType != domain.OutboxEventContractIssued {
		return nil
	}

	var payload domain.ContractIssuedEvent
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", domain.ErrValidation, event.EventType, err)
	}
	if payload.SubscriptionID == "" {
		return fmt.Errorf("%w: %s without subscription_id", domain.ErrValidation, event.EventType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	logger := h.logger.WithFields(log.Fields{
		"outbox_id":       event.ID,
		"subscription_id": payload.SubscriptionID,
		"policy_number":   payload.PolicyNumber,
	})

	var notifyErr, commissionErr error
	var g errgroup.Group
	g.Go(func() error {
		notifyErr = h.notify(ctx, event.ID, payload)
		if notifyErr != nil {
			h.metrics.SideEffectFailed("notification")
			logger.WithError(notifyErr).Warn("contract notification failed")
		}
		return nil
	})
	g.Go(func() error {
		commissionErr = h.bookCommission(ctx, event.ID, payload)
		if commissionErr != nil {
			h.metrics.SideEffectFailed("commission")
			logger.WithError(commissionErr).Warn("commission booking failed")
		}
		return nil
	})
	_ = g.Wait()

	return errors.Join(notifyErr, commissionErr)
}

func (h *Handler) notify(ctx context.Context, eventID string, payload domain.ContractIssuedEvent) error {
	if h.notifications == nil {
		return nil
	}

	n := domain.Notification{
		ID:             effectID(eventID, "notification"),
		RecipientID:    payload.OwnerID,
		Phone:          payload.Phone,
		SubscriptionID: payload.SubscriptionID,
		Kind:           domain.NotificationKindContractIssued,
		Title:          "Contract activated",
		Body: fmt.Sprintf("Your policy %s is active. Premium paid: %d %s.",
			payload.PolicyNumber, payload.PremiumMinor, payload.Currency),
		CreatedAt: h.now(),
	}
	if err := h.notifications.Create(ctx, n); err != nil {
		if errors.Is(err, domain.ErrNotificationExists) {
			return nil
		}
		return fmt.Errorf("store notification: %w", err)
	}

	if h.sender == nil || n.Phone == "" {
		return nil
	}
	// SMS отправляется только при первой записи уведомления; сбой не повторяется.
	if err := h.sender.Send(ctx, n); err != nil {
		h.metrics.SideEffectFailed("sms")
		h.logger.WithError(err).WithField("notification_id", n.ID).Warn("sms delivery failed")
	}
	return nil
}

func (h *Handler) bookCommission(ctx context.Context, eventID string, payload domain.ContractIssuedEvent) error {
	if h.commissions == nil || payload.AgentCode == "" {
		return nil
	}

	amount, rate := h.rates.Amount(payload.ProductCategory, payload.PremiumMinor)
	c := domain.Commission{
		ID:             effectID(eventID, "commission"),
		SubscriptionID: payload.SubscriptionID,
		AgentCode:      payload.AgentCode,
		PolicyNumber:   payload.PolicyNumber,
		BaseMinor:      payload.PremiumMinor,
		AmountMinor:    amount,
		Currency:       payload.Currency,
		Rate:           rate.String(),
		CreatedAt:      h.now(),
	}
	if err := h.commissions.Create(ctx, c); err != nil {
		if errors.Is(err, domain.ErrCommissionExists) {
			return nil
		}
		return fmt.Errorf("book commission: %w", err)
	}
	h.logger.WithFields(log.Fields{
		"agent_code":   c.AgentCode,
		"amount_minor": c.AmountMinor,
	}).Info("commission booked")
	return nil
}

func effectID(eventID, effect string) string {
	return uuid.NewSHA1(effectNamespace, []byte(eventID+":"+effect)).String()
}

var _ domain.OutboxPublisher = (*Handler)(nil)
