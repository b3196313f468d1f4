// Package payment — провайдер-независимый фасад платёжного конвейера:
// выбор адаптера, жизненный цикл записи реестра и нормализация статусов.
package payment

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
)

// ChallengeIssuer выдаёт и проверяет OTP для провайдеров challenge-типа.
type ChallengeIssuer interface {
	Issue(ctx context.Context, phone string, payload domain.OtpPayload) (string, error)
	// Consume принимает код только для вызова, выданного transactionID.
	Consume(ctx context.Context, phone, transactionID, code string) (domain.OtpPayload, error)
	Invalidate(ctx context.Context, phone string) error
}

// WebhookParser — необязательная возможность адаптера принимать push-уведомления.
type WebhookParser interface {
	ParseWebhook(payload []byte, headers http.Header) (domain.ProviderNotification, error)
}

// SessionRequest — запрос на открытие платёжной сессии.
type SessionRequest struct {
	// SubscriptionID пустой для самостоятельной оплаты премии.
	SubscriptionID string
	Provider       string
	AmountMinor    int64
	Currency       string
	Country        string
	Phone          string
	SuccessURL     string
	ErrorURL       string
}

// Session — открытая платёжная сессия.
type Session struct {
	TransactionID string
	Provider      string
	Kind          domain.ProviderKind
	CorrelationID string
	// LaunchURL заполнен только для redirect-провайдеров.
	LaunchURL string
	Status    domain.TransactionStatus
}

// MessageStatusUnchanged сопровождает ошибку опроса: провайдер не ответил,
// запись остаётся pending.
const MessageStatusUnchanged = "provider status check failed, transaction is still pending; retry later"

// Result — итог операции над записью реестра.
type Result struct {
	Transaction domain.PaymentTransaction
	// Resolved — запись закрыта именно этим вызовом.
	Resolved bool
	// Message — пояснение для вызывающего, когда статус записи не изменился.
	Message string
}

// Success сообщает, что платёж подтверждён.
func (r Result) Success() bool {
	return r.Transaction.Status == domain.TransactionStatusCompleted
}

// Orchestrator реализует createPaymentSession / verifyAndCapture / checkStatus.
type Orchestrator struct {
	registry *Registry
	ledger   domain.TransactionRepository
	otp      ChallengeIssuer
	metrics  Metrics
	logger   *log.Entry
	now      func() time.Time
	newID    func() string
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов транзакций.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// NewOrchestrator собирает фасад.
func NewOrchestrator(registry *Registry, ledger domain.TransactionRepository, otp ChallengeIssuer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		ledger:   ledger,
		otp:      otp,
		metrics:  noopMetrics{},
		logger:   log.WithField("component", "payment-orchestrator"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateSession выбирает адаптер, пишет pending-запись и инициирует операцию.
// Неизвестный провайдер и невалидный запрос отклоняются до записи в реестр;
// окончательный отказ инициации закрывает запись как failed.
func (o *Orchestrator) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	provider, err := o.registry.Get(req.Provider)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %q", err, req.Provider)
	}
	if err := validateSession(req, provider.Kind()); err != nil {
		return Session{}, err
	}

	now := o.now()
	tx := domain.PaymentTransaction{
		ID:             o.newID(),
		SubscriptionID: req.SubscriptionID,
		AmountMinor:    req.AmountMinor,
		Currency:       strings.ToUpper(req.Currency),
		Provider:       provider.Name(),
		Country:        strings.ToUpper(req.Country),
		Phone:          strings.TrimSpace(req.Phone),
		Status:         domain.TransactionStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.ledger.Create(ctx, tx); err != nil {
		return Session{}, fmt.Errorf("record payment attempt: %w", err)
	}

	logger := o.logger.WithFields(log.Fields{
		"transaction_id":  tx.ID,
		"subscription_id": tx.SubscriptionID,
		"provider":        tx.Provider,
	})

	initReq := domain.InitiateRequest{
		TransactionID: tx.ID,
		AmountMinor:   tx.AmountMinor,
		Currency:      tx.Currency,
		Country:       tx.Country,
		Phone:         tx.Phone,
		SuccessURL:    req.SuccessURL,
		ErrorURL:      req.ErrorURL,
	}
	if provider.Kind() == domain.ProviderKindChallenge {
		code, err := o.otp.Issue(ctx, tx.Phone, domain.OtpPayload{
			TransactionID:  tx.ID,
			SubscriptionID: tx.SubscriptionID,
			AmountMinor:    tx.AmountMinor,
			Country:        tx.Country,
		})
		if err != nil {
			o.fail(ctx, tx, err, logger)
			return Session{}, fmt.Errorf("issue otp: %w", err)
		}
		initReq.OtpCode = code
	}

	started := time.Now()
	res, err := provider.Initiate(ctx, initReq)
	o.metrics.ProviderCall(tx.Provider, "initiate", err, time.Since(started))
	if err != nil {
		if provider.Kind() == domain.ProviderKindChallenge {
			_ = o.otp.Invalidate(ctx, tx.Phone)
		}
		o.fail(ctx, tx, err, logger)
		return Session{}, classifyProviderError(err)
	}

	correlationID := res.CorrelationID
	if correlationID == "" {
		correlationID = tx.ID
	}
	if err := o.ledger.SetCorrelationID(ctx, tx.ID, correlationID); err != nil {
		return Session{}, fmt.Errorf("link provider operation: %w", err)
	}
	if len(res.Raw) > 0 {
		if _, _, err := o.ledger.Resolve(ctx, tx.ID, domain.TransactionStatusPending, res.Raw, ""); err != nil {
			logger.WithError(err).Warn("failed to store initiation snapshot")
		}
	}

	o.metrics.SessionCreated(tx.Provider)
	logger.WithField("correlation_id", correlationID).Info("payment session created")

	return Session{
		TransactionID: tx.ID,
		Provider:      tx.Provider,
		Kind:          provider.Kind(),
		CorrelationID: correlationID,
		LaunchURL:     res.LaunchURL,
		Status:        domain.TransactionStatusPending,
	}, nil
}

// VerifyAndCapture проверяет OTP локально и только после этого вызывает списание.
// Повторный вызов для закрытой записи возвращает её текущее состояние.
func (o *Orchestrator) VerifyAndCapture(ctx context.Context, transactionID, code string) (Result, error) {
	tx, err := o.ledger.Get(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	if tx.Status.Terminal() {
		return Result{Transaction: tx}, nil
	}

	provider, err := o.registry.Get(tx.Provider)
	if err != nil {
		return Result{}, err
	}
	if provider.Kind() != domain.ProviderKindChallenge {
		return Result{}, fmt.Errorf("capture via %s: %w", tx.Provider, domain.ErrOperationNotSupported)
	}

	if _, err := o.otp.Consume(ctx, tx.Phone, tx.ID, code); err != nil {
		o.metrics.OtpRejected(otpReason(err))
		return Result{Transaction: tx}, err
	}

	logger := o.logger.WithFields(log.Fields{"transaction_id": tx.ID, "provider": tx.Provider})

	started := time.Now()
	pr, err := provider.Confirm(ctx, domain.ConfirmRequest{
		TransactionID: tx.ID,
		CorrelationID: tx.CorrelationID,
		AmountMinor:   tx.AmountMinor,
		Currency:      tx.Currency,
		Country:       tx.Country,
		Phone:         tx.Phone,
		Code:          code,
	})
	o.metrics.ProviderCall(tx.Provider, "confirm", err, time.Since(started))
	if err != nil {
		failed := o.fail(ctx, tx, err, logger)
		return Result{Transaction: failed, Resolved: failed.Status == domain.TransactionStatusFailed}, classifyProviderError(err)
	}

	return o.resolve(ctx, tx, pr, logger)
}

// CheckStatus опрашивает провайдера по незакрытой записи.
// Сетевая ошибка опроса не закрывает запись: статус у провайдера неизвестен.
func (o *Orchestrator) CheckStatus(ctx context.Context, transactionID string) (Result, error) {
	tx, err := o.ledger.Get(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	if tx.Status.Terminal() {
		return Result{Transaction: tx}, nil
	}

	provider, err := o.registry.Get(tx.Provider)
	if err != nil {
		return Result{}, err
	}

	correlationID := tx.CorrelationID
	if correlationID == "" {
		correlationID = tx.ID
	}

	logger := o.logger.WithFields(log.Fields{"transaction_id": tx.ID, "provider": tx.Provider})

	started := time.Now()
	pr, err := provider.CheckStatus(ctx, correlationID)
	o.metrics.ProviderCall(tx.Provider, "check_status", err, time.Since(started))
	if err != nil {
		logger.WithError(err).Warn("provider status poll failed")
		return Result{Transaction: tx, Message: MessageStatusUnchanged}, classifyProviderError(err)
	}

	return o.resolve(ctx, tx, pr, logger)
}

// ApplyNotification применяет push-уведомление провайдера к записи,
// найденной по идентификатору операции. Путь обновления тот же, что у CheckStatus.
func (o *Orchestrator) ApplyNotification(ctx context.Context, providerName string, payload []byte, headers http.Header) (Result, error) {
	provider, err := o.registry.Get(providerName)
	if err != nil {
		return Result{}, err
	}
	parser, ok := provider.(WebhookParser)
	if !ok {
		return Result{}, fmt.Errorf("webhooks via %s: %w", provider.Name(), domain.ErrOperationNotSupported)
	}

	notification, err := parser.ParseWebhook(payload, headers)
	if err != nil {
		return Result{}, err
	}

	tx, err := o.ledger.GetByCorrelationID(ctx, provider.Name(), notification.CorrelationID)
	if err != nil {
		return Result{}, err
	}
	if tx.Status.Terminal() {
		return Result{Transaction: tx}, nil
	}

	logger := o.logger.WithFields(log.Fields{"transaction_id": tx.ID, "provider": tx.Provider, "source": "webhook"})
	return o.resolve(ctx, tx, notification.Result, logger)
}

// ReissueChallenge выдаёт новый код для незакрытой challenge-записи.
// Предыдущий код перестаёт действовать, счётчик попыток сбрасывается.
func (o *Orchestrator) ReissueChallenge(ctx context.Context, transactionID string) error {
	tx, err := o.ledger.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return domain.ErrTransactionClosed
	}
	provider, err := o.registry.Get(tx.Provider)
	if err != nil {
		return err
	}
	if provider.Kind() != domain.ProviderKindChallenge {
		return fmt.Errorf("reissue via %s: %w", tx.Provider, domain.ErrOperationNotSupported)
	}

	code, err := o.otp.Issue(ctx, tx.Phone, domain.OtpPayload{
		TransactionID:  tx.ID,
		SubscriptionID: tx.SubscriptionID,
		AmountMinor:    tx.AmountMinor,
		Country:        tx.Country,
	})
	if err != nil {
		return fmt.Errorf("issue otp: %w", err)
	}

	started := time.Now()
	_, err = provider.Initiate(ctx, domain.InitiateRequest{
		TransactionID: tx.ID,
		AmountMinor:   tx.AmountMinor,
		Currency:      tx.Currency,
		Country:       tx.Country,
		Phone:         tx.Phone,
		OtpCode:       code,
	})
	o.metrics.ProviderCall(tx.Provider, "initiate", err, time.Since(started))
	if err != nil {
		_ = o.otp.Invalidate(ctx, tx.Phone)
		return classifyProviderError(err)
	}
	return nil
}

// Get возвращает запись реестра.
func (o *Orchestrator) Get(ctx context.Context, transactionID string) (domain.PaymentTransaction, error) {
	return o.ledger.Get(ctx, transactionID)
}

func (o *Orchestrator) resolve(ctx context.Context, tx domain.PaymentTransaction, pr domain.ProviderResult, logger *log.Entry) (Result, error) {
	status := pr.Status
	if !status.Valid() {
		status = domain.TransactionStatusPending
	}

	updated, changed, err := o.ledger.Resolve(ctx, tx.ID, status, pr.Raw, pr.Message)
	if err != nil {
		return Result{Transaction: tx}, fmt.Errorf("update payment transaction: %w", err)
	}
	if changed {
		o.metrics.TransactionResolved(updated.Provider, updated.Status)
		logger.WithFields(log.Fields{
			"status":          updated.Status,
			"provider_status": pr.ProviderStatus,
		}).Info("payment transaction resolved")
	}
	return Result{Transaction: updated, Resolved: changed}, nil
}

// fail закрывает запись как failed, сохраняя сырой ответ провайдера для аудита.
func (o *Orchestrator) fail(ctx context.Context, tx domain.PaymentTransaction, cause error, logger *log.Entry) domain.PaymentTransaction {
	updated, changed, err := o.ledger.Resolve(ctx, tx.ID, domain.TransactionStatusFailed, domain.RawFromError(cause), cause.Error())
	if err != nil {
		logger.WithError(err).Error("failed to mark payment transaction failed")
		return tx
	}
	if changed {
		o.metrics.TransactionResolved(updated.Provider, updated.Status)
	}
	logger.WithError(cause).Warn("payment attempt failed")
	return updated
}

func validateSession(req SessionRequest, kind domain.ProviderKind) error {
	var errs []error
	if req.AmountMinor <= 0 {
		errs = append(errs, domain.ErrAmountInvalid)
	}
	if strings.TrimSpace(req.Currency) == "" {
		errs = append(errs, domain.ErrCurrencyRequired)
	}
	switch kind {
	case domain.ProviderKindChallenge:
		if strings.TrimSpace(req.Phone) == "" {
			errs = append(errs, domain.ErrPhoneRequired)
		}
	case domain.ProviderKindRedirect:
		if strings.TrimSpace(req.SuccessURL) == "" || strings.TrimSpace(req.ErrorURL) == "" {
			errs = append(errs, domain.ErrReturnURLRequired)
		}
	}
	return domain.ValidationErrors(errs)
}

// classifyProviderError гарантирует, что ошибка провайдера несёт один из
// сторожевых классов: отказ провайдера, неподдерживаемая операция или недоступность.
func classifyProviderError(err error) error {
	switch {
	case errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrProviderRejected),
		errors.Is(err, domain.ErrOperationNotSupported),
		errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
}

func otpReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrOtpExpired):
		return "expired"
	case errors.Is(err, domain.ErrOtpRetriesExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrOtpMismatch):
		return "mismatch"
	default:
		return "error"
	}
}
