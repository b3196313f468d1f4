package domain

import (
	"context"
	"time"
)

// ProviderKind различает форму API провайдера.
type ProviderKind string

const (
	// ProviderKindChallenge — отправка одноразового кода, затем списание.
	ProviderKindChallenge ProviderKind = "challenge"
	// ProviderKindRedirect — hosted checkout с опросом итогового статуса.
	ProviderKindRedirect ProviderKind = "redirect"
)

// InitiateRequest — параметры открытия платёжной операции у провайдера.
type InitiateRequest struct {
	TransactionID string
	AmountMinor   int64
	Currency      string
	Country       string
	Phone         string
	// OtpCode передаётся провайдеру challenge-типа для доставки клиенту.
	OtpCode    string
	SuccessURL string
	ErrorURL   string
}

// InitiateResult — ответ провайдера на открытие операции.
type InitiateResult struct {
	CorrelationID string
	LaunchURL     string
	Raw           []byte
}

// ConfirmRequest — параметры подтверждения (списания) операции.
type ConfirmRequest struct {
	TransactionID string
	CorrelationID string
	AmountMinor   int64
	Currency      string
	Country       string
	Phone         string
	Code          string
}

// ProviderResult — нормализованный статус операции провайдера.
type ProviderResult struct {
	Status         TransactionStatus
	ProviderStatus string
	Message        string
	Raw            []byte
}

// PaymentProvider — набор возможностей платёжного провайдера.
// Каждый адаптер реализует все три операции; неподдерживаемые возвращают
// ErrOperationNotSupported.
type PaymentProvider interface {
	Name() string
	Kind() ProviderKind
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	Confirm(ctx context.Context, req ConfirmRequest) (ProviderResult, error)
	CheckStatus(ctx context.Context, correlationID string) (ProviderResult, error)
}

// ProviderNotification — разобранное push-уведомление провайдера о статусе операции.
type ProviderNotification struct {
	CorrelationID string
	Result        ProviderResult
}

// ContractListener получает уведомление о выпуске контракта.
type ContractListener interface {
	// StageContractIssued вызывается под блокировкой подписки с ctx её
	// транзакции (см. SubscriptionMutation). Ошибка отменяет выпуск.
	StageContractIssued(ctx context.Context, sub Subscription) error
	// AfterContractIssued вызывается после фиксации выпуска.
	// Не должен блокировать вызывающего.
	AfterContractIssued(ctx context.Context, sub Subscription)
}

// NotificationSender доставляет уведомление клиенту (SMS/push).
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

const (
	// OutboxEventContractIssued — контракт выпущен, нужны побочные эффекты.
	OutboxEventContractIssued = "ContractIssued"
	// OutboxEventPaymentResolved — платёжная попытка получила конечный статус.
	OutboxEventPaymentResolved = "PaymentResolved"
)
