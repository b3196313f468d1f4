// Package subscription реализует жизненный цикл предложения полиса:
// proposition → payment_pending → paid → contrat, с отклонением из незавершённых статусов.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
)

const defaultListLimit = 50

// Timeline event types.
const (
	EventSubscriptionCreated  = "SubscriptionCreated"
	EventPaymentSessionOpened = "PaymentSessionOpened"
	EventPaymentConfirmed     = "PaymentConfirmed"
	EventContractIssued       = "ContractIssued"
	EventSubscriptionRejected = "SubscriptionRejected"
)

// Payments — платёжный фасад, которым пользуется машина состояний.
type Payments interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
	VerifyAndCapture(ctx context.Context, transactionID, code string) (payment.Result, error)
	CheckStatus(ctx context.Context, transactionID string) (payment.Result, error)
	ApplyNotification(ctx context.Context, provider string, payload []byte, headers http.Header) (payment.Result, error)
	Get(ctx context.Context, transactionID string) (domain.PaymentTransaction, error)
}

// NumberAllocator выдаёт номера полисов.
type NumberAllocator interface {
	NextPolicyNumber(ctx context.Context, productCategory string) (string, error)
}

// PaymentListener получает закрытые платёжные попытки.
type PaymentListener interface {
	AfterPaymentResolved(ctx context.Context, tx domain.PaymentTransaction)
}

// Metrics собирает метрики переходов подписки.
type Metrics interface {
	SubscriptionTransition(status domain.SubscriptionStatus)
	ContractIssued(elapsed time.Duration)
	TimelineEvent()
}

type noopMetrics struct{}

func (noopMetrics) SubscriptionTransition(domain.SubscriptionStatus) {}
func (noopMetrics) ContractIssued(time.Duration)                     {}
func (noopMetrics) TimelineEvent()                                   {}

// CreateRequest — параметры нового предложения.
type CreateRequest struct {
	OwnerID         string
	AgentCode       string
	ProductID       string
	ProductCategory string
	PremiumMinor    int64
	CapitalMinor    int64
	Currency        string
	DurationMonths  int32
	Phone           string
}

// PaymentRequest — параметры оплаты первой премии.
type PaymentRequest struct {
	Provider string
	// Phone по умолчанию берётся из подписки.
	Phone      string
	Country    string
	SuccessURL string
	ErrorURL   string
}

// PaymentOutcome — итог платёжной операции вместе с состоянием подписки.
type PaymentOutcome struct {
	Subscription domain.Subscription
	Transaction  domain.PaymentTransaction
	Resolved     bool
	// Message — пояснение платёжного фасада, если статус попытки не изменился.
	Message string
}

// Success сообщает, что оплата подтверждена.
func (o PaymentOutcome) Success() bool {
	return o.Transaction.Status == domain.TransactionStatusCompleted
}

// Service — машина состояний подписки.
type Service struct {
	subs        domain.SubscriptionRepository
	payments    Payments
	numbers     NumberAllocator
	timeline    domain.TimelineRepository
	contracts   domain.ContractListener
	paymentsOut PaymentListener
	metrics     Metrics
	logger      *log.Entry
	autoPromote bool
	now         func() time.Time
	newID       func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTimeline включает запись событий жизненного цикла.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = repo }
}

// WithContractListener задаёт получателя выпущенных контрактов.
func WithContractListener(l domain.ContractListener) Option {
	return func(s *Service) { s.contracts = l }
}

// WithPaymentListener задаёт получателя закрытых платёжных попыток.
func WithPaymentListener(l PaymentListener) Option {
	return func(s *Service) { s.paymentsOut = l }
}

// WithAutoPromote включает выпуск контракта сразу после подтверждения оплаты.
func WithAutoPromote(enabled bool) Option {
	return func(s *Service) { s.autoPromote = enabled }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов подписок.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService собирает машину состояний.
func NewService(subs domain.SubscriptionRepository, payments Payments, numbers NumberAllocator, opts ...Option) *Service {
	s := &Service{
		subs:        subs,
		payments:    payments,
		numbers:     numbers,
		metrics:     noopMetrics{},
		logger:      log.WithField("component", "subscription"),
		autoPromote: true,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create сохраняет новое предложение в статусе proposition.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Subscription, error) {
	now := s.now()
	sub := domain.Subscription{
		ID:              s.newID(),
		OwnerID:         strings.TrimSpace(req.OwnerID),
		AgentCode:       strings.TrimSpace(req.AgentCode),
		ProductID:       strings.TrimSpace(req.ProductID),
		ProductCategory: strings.ToLower(strings.TrimSpace(req.ProductCategory)),
		PremiumMinor:    req.PremiumMinor,
		CapitalMinor:    req.CapitalMinor,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		DurationMonths:  req.DurationMonths,
		Phone:           strings.TrimSpace(req.Phone),
		Status:          domain.SubscriptionStatusProposition,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := domain.ValidationErrors(sub.ValidateInvariants()); err != nil {
		return domain.Subscription{}, err
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	s.metrics.SubscriptionTransition(sub.Status)
	s.appendTimeline(sub.ID, EventSubscriptionCreated, "", now)
	s.logger.WithFields(log.Fields{
		"subscription_id": sub.ID,
		"owner_id":        sub.OwnerID,
		"product_id":      sub.ProductID,
	}).Info("subscription created")
	return sub, nil
}

// Get возвращает подписку.
func (s *Service) Get(ctx context.Context, id string) (domain.Subscription, error) {
	return s.subs.Get(ctx, id)
}

// ListByOwner возвращает подписки владельца, новые первыми.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Subscription, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.ValidationErrors([]error{domain.ErrOwnerRequired})
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.subs.ListByOwner(ctx, ownerID, limit)
}

// Timeline возвращает события жизненного цикла подписки.
func (s *Service) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if _, err := s.subs.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(id)
}

// StartPayment открывает платёжную сессию на сумму премии и переводит
// подписку в payment_pending, связывая её с новой записью реестра.
func (s *Service) StartPayment(ctx context.Context, id string, req PaymentRequest) (payment.Session, error) {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return payment.Session{}, err
	}
	if err := s.ensurePayable(ctx, sub); err != nil {
		return payment.Session{}, err
	}

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		phone = sub.Phone
	}
	session, err := s.payments.CreateSession(ctx, payment.SessionRequest{
		SubscriptionID: sub.ID,
		Provider:       req.Provider,
		AmountMinor:    sub.PremiumMinor,
		Currency:       sub.Currency,
		Country:        req.Country,
		Phone:          phone,
		SuccessURL:     req.SuccessURL,
		ErrorURL:       req.ErrorURL,
	})
	if err != nil {
		return payment.Session{}, err
	}

	now := s.now()
	updated, err := s.subs.Update(ctx, id, func(ctx context.Context, current *domain.Subscription) (bool, error) {
		if err := s.ensureLinkable(ctx, current); err != nil {
			return false, err
		}
		current.Status = domain.SubscriptionStatusPaymentPending
		current.TransactionID = session.TransactionID
		current.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"subscription_id": id,
			"transaction_id":  session.TransactionID,
		}).Warn("payment session opened but subscription was not linked")
		return payment.Session{}, err
	}

	s.metrics.SubscriptionTransition(updated.Status)
	s.appendTimeline(id, EventPaymentSessionOpened, session.Provider, now)
	return session, nil
}

// ConfirmPayment проверяет код и списывает премию по связанной попытке.
func (s *Service) ConfirmPayment(ctx context.Context, id, code string) (PaymentOutcome, error) {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if sub.TransactionID == "" {
		return PaymentOutcome{Subscription: sub}, domain.ErrSubscriptionNotPayable
	}

	res, err := s.payments.VerifyAndCapture(ctx, sub.TransactionID, code)
	if err != nil {
		s.notifyResolved(ctx, res)
		return PaymentOutcome{Subscription: sub, Transaction: res.Transaction, Resolved: res.Resolved}, err
	}
	return s.settle(ctx, res)
}

// RefreshPayment опрашивает провайдера по связанной попытке.
func (s *Service) RefreshPayment(ctx context.Context, id string) (PaymentOutcome, error) {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if sub.TransactionID == "" {
		return PaymentOutcome{Subscription: sub}, domain.ErrSubscriptionNotPayable
	}

	res, err := s.payments.CheckStatus(ctx, sub.TransactionID)
	if err != nil {
		return PaymentOutcome{Subscription: sub, Transaction: res.Transaction, Message: res.Message}, err
	}
	return s.settle(ctx, res)
}

// CaptureTransaction выполняет verifyAndCapture по идентификатору попытки.
// Для попытки, привязанной к подписке, итог отражается на подписке.
func (s *Service) CaptureTransaction(ctx context.Context, transactionID, code string) (PaymentOutcome, error) {
	res, err := s.payments.VerifyAndCapture(ctx, transactionID, code)
	if err != nil {
		s.notifyResolved(ctx, res)
		return PaymentOutcome{Transaction: res.Transaction, Resolved: res.Resolved}, err
	}
	return s.settle(ctx, res)
}

// RefreshTransaction опрашивает провайдера по идентификатору попытки.
func (s *Service) RefreshTransaction(ctx context.Context, transactionID string) (PaymentOutcome, error) {
	res, err := s.payments.CheckStatus(ctx, transactionID)
	if err != nil {
		return PaymentOutcome{Transaction: res.Transaction, Message: res.Message}, err
	}
	return s.settle(ctx, res)
}

// ApplyProviderNotification применяет push-уведомление провайдера и, если
// попытка привязана к подписке, продвигает подписку так же, как RefreshPayment.
func (s *Service) ApplyProviderNotification(ctx context.Context, provider string, payload []byte, headers http.Header) (PaymentOutcome, error) {
	res, err := s.payments.ApplyNotification(ctx, provider, payload, headers)
	if err != nil {
		return PaymentOutcome{}, err
	}
	return s.settle(ctx, res)
}

// PromoteToContract выпускает контракт по оплаченной подписке.
// Повторный вызов для контракта возвращает существующую запись без нового номера.
// Статус попытки, номер полиса и событие выпуска читаются и пишутся в
// транзакции блокировки подписки.
func (s *Service) PromoteToContract(ctx context.Context, id string) (domain.Subscription, error) {
	started := time.Now()
	issued := false

	sub, err := s.subs.Update(ctx, id, func(ctx context.Context, current *domain.Subscription) (bool, error) {
		issued = false
		if current.Status == domain.SubscriptionStatusContract {
			return false, nil
		}
		if current.Status == domain.SubscriptionStatusRejected || current.TransactionID == "" {
			return false, domain.ErrSubscriptionNotPayable
		}

		tx, err := s.payments.Get(ctx, current.TransactionID)
		if err != nil {
			return false, fmt.Errorf("load linked transaction: %w", err)
		}
		if tx.Status != domain.TransactionStatusCompleted {
			return false, fmt.Errorf("%w: transaction %s is %s", domain.ErrSubscriptionNotPayable, tx.ID, tx.Status)
		}
		if !current.Status.CanTransitionTo(domain.SubscriptionStatusContract) {
			return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, domain.SubscriptionStatusContract)
		}

		number, err := s.numbers.NextPolicyNumber(ctx, current.ProductCategory)
		if err != nil {
			return false, fmt.Errorf("allocate policy number: %w", err)
		}
		now := s.now()
		current.Status = domain.SubscriptionStatusContract
		current.PolicyNumber = number
		current.ValidatedAt = &now
		current.UpdatedAt = now
		if s.contracts != nil {
			if err := s.contracts.StageContractIssued(ctx, *current); err != nil {
				return false, fmt.Errorf("stage contract event: %w", err)
			}
		}
		issued = true
		return true, nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	if !issued {
		return sub, nil
	}

	s.metrics.SubscriptionTransition(sub.Status)
	s.metrics.ContractIssued(time.Since(started))
	s.appendTimeline(sub.ID, EventContractIssued, sub.PolicyNumber, sub.UpdatedAt)
	s.logger.WithFields(log.Fields{
		"subscription_id": sub.ID,
		"policy_number":   sub.PolicyNumber,
	}).Info("contract issued")

	if s.contracts != nil {
		s.contracts.AfterContractIssued(context.WithoutCancel(ctx), sub)
	}
	return sub, nil
}

// Reject переводит незавершённую подписку в rejected. Повторный вызов ничего не меняет.
func (s *Service) Reject(ctx context.Context, id, reason string) (domain.Subscription, error) {
	now := s.now()
	changed := false
	sub, err := s.subs.Update(ctx, id, func(_ context.Context, current *domain.Subscription) (bool, error) {
		changed = false
		if current.Status == domain.SubscriptionStatusRejected {
			return false, nil
		}
		if !current.Status.CanTransitionTo(domain.SubscriptionStatusRejected) {
			return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, domain.SubscriptionStatusRejected)
		}
		current.Status = domain.SubscriptionStatusRejected
		current.RejectReason = strings.TrimSpace(reason)
		current.UpdatedAt = now
		changed = true
		return true, nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	if changed {
		s.metrics.SubscriptionTransition(sub.Status)
		s.appendTimeline(sub.ID, EventSubscriptionRejected, sub.RejectReason, now)
	}
	return sub, nil
}

// settle отражает итог платёжной попытки на подписке: подтверждённая оплата
// переводит её в paid и, при autoPromote, в contrat.
func (s *Service) settle(ctx context.Context, res payment.Result) (PaymentOutcome, error) {
	s.notifyResolved(ctx, res)

	tx := res.Transaction
	out := PaymentOutcome{Transaction: tx, Resolved: res.Resolved}
	if tx.SubscriptionID == "" {
		return out, nil
	}

	if tx.Status != domain.TransactionStatusCompleted {
		sub, err := s.subs.Get(ctx, tx.SubscriptionID)
		if err != nil {
			return out, err
		}
		out.Subscription = sub
		return out, nil
	}

	now := s.now()
	paid := false
	sub, err := s.subs.Update(ctx, tx.SubscriptionID, func(_ context.Context, current *domain.Subscription) (bool, error) {
		paid = false
		if current.Status != domain.SubscriptionStatusPaymentPending {
			return false, nil
		}
		// Подписку могли перепривязать к новой сессии, пока эта была открыта:
		// оплаченная попытка этой же подписки побеждает.
		current.TransactionID = tx.ID
		current.Status = domain.SubscriptionStatusPaid
		current.UpdatedAt = now
		paid = true
		return true, nil
	})
	if err != nil {
		return out, err
	}
	if paid {
		s.metrics.SubscriptionTransition(sub.Status)
		s.appendTimeline(sub.ID, EventPaymentConfirmed, tx.ID, now)
	}
	out.Subscription = sub

	applied := sub.TransactionID == tx.ID &&
		(sub.Status == domain.SubscriptionStatusPaid || sub.Status == domain.SubscriptionStatusContract)
	if !applied {
		s.logger.WithFields(log.Fields{
			"subscription_id":       sub.ID,
			"subscription_status":   sub.Status,
			"transaction_id":        tx.ID,
			"linked_transaction_id": sub.TransactionID,
			"amount_minor":          tx.AmountMinor,
		}).Error("premium captured but not applied to subscription")
		return out, nil
	}

	if s.autoPromote && sub.Status == domain.SubscriptionStatusPaid {
		promoted, err := s.PromoteToContract(ctx, sub.ID)
		if err != nil {
			return out, fmt.Errorf("promote to contract: %w", err)
		}
		out.Subscription = promoted
	}
	return out, nil
}

func (s *Service) ensurePayable(ctx context.Context, sub domain.Subscription) error {
	switch sub.Status {
	case domain.SubscriptionStatusPaid, domain.SubscriptionStatusContract:
		return domain.ErrSubscriptionAlreadyPaid
	case domain.SubscriptionStatusRejected:
		return domain.ErrSubscriptionNotPayable
	}
	return s.ensureLinkedOpen(ctx, sub.TransactionID)
}

func (s *Service) ensureLinkedOpen(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return nil
	}
	tx, err := s.payments.Get(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil
		}
		return err
	}
	if tx.Status == domain.TransactionStatusCompleted {
		return domain.ErrSubscriptionAlreadyPaid
	}
	return nil
}

// ensureLinkable повторяет ensurePayable под блокировкой: связанная попытка
// могла завершиться, пока открывалась новая сессия.
func (s *Service) ensureLinkable(ctx context.Context, sub *domain.Subscription) error {
	switch sub.Status {
	case domain.SubscriptionStatusPaid, domain.SubscriptionStatusContract:
		return domain.ErrSubscriptionAlreadyPaid
	}
	if !sub.Status.CanTransitionTo(domain.SubscriptionStatusPaymentPending) {
		return domain.ErrSubscriptionNotPayable
	}
	return s.ensureLinkedOpen(ctx, sub.TransactionID)
}

func (s *Service) notifyResolved(ctx context.Context, res payment.Result) {
	if s.paymentsOut == nil || !res.Resolved {
		return
	}
	s.paymentsOut.AfterPaymentResolved(context.WithoutCancel(ctx), res.Transaction)
}

func (s *Service) appendTimeline(id, eventType, reason string, occurred time.Time) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		SubscriptionID: id,
		Type:           eventType,
		Reason:         reason,
		Occurred:       occurred,
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"subscription_id": id,
			"event":           eventType,
		}).Warn("append timeline event failed")
		return
	}
	s.metrics.TimelineEvent()
}
