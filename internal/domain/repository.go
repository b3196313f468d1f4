package domain

import (
	"context"
	"time"
)

// SubscriptionMutation изменяет подписку под блокировкой строки.
// Возвращает false, если изменений нет и запись сохранять не нужно.
// ctx несёт транзакцию блокировки: чтения и записи через него
// фиксируются или откатываются вместе с подпиской.
type SubscriptionMutation func(ctx context.Context, sub *Subscription) (bool, error)

// SubscriptionRepository описывает требования к хранилищу подписок.
type SubscriptionRepository interface {
	// Create сохраняет новую подписку. ErrSubscriptionExists, если ID занят.
	Create(ctx context.Context, sub Subscription) error
	// Get возвращает подписку или ErrSubscriptionNotFound.
	Get(ctx context.Context, id string) (Subscription, error)
	// ListByOwner возвращает подписки владельца с опциональным ограничением на количество.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Subscription, error)
	// Update перечитывает строку под эксклюзивной блокировкой, применяет mutate
	// и сохраняет результат в той же транзакции. Конкурентные вызовы для одной
	// подписки сериализуются.
	Update(ctx context.Context, id string, mutate SubscriptionMutation) (Subscription, error)
}

// TransactionRepository — реестр платёжных попыток.
type TransactionRepository interface {
	// Create записывает новую попытку в статусе pending.
	Create(ctx context.Context, tx PaymentTransaction) error
	Get(ctx context.Context, id string) (PaymentTransaction, error)
	// GetByCorrelationID ищет попытку по идентификатору операции провайдера.
	GetByCorrelationID(ctx context.Context, provider, correlationID string) (PaymentTransaction, error)
	// SetCorrelationID привязывает идентификатор провайдера к pending-записи.
	SetCorrelationID(ctx context.Context, id, correlationID string) error
	// Resolve переводит pending-запись в status и сохраняет снимок ответа.
	// Для записи в конечном статусе ничего не меняет и возвращает changed=false.
	// status=pending обновляет только снимок ответа.
	Resolve(ctx context.Context, id string, status TransactionStatus, raw []byte, message string) (PaymentTransaction, bool, error)
}

// SequenceRepository — долговечный атомарный счётчик.
type SequenceRepository interface {
	// Next атомарно увеличивает счётчик key и возвращает новое значение.
	Next(ctx context.Context, key string) (int64, error)
}

// OtpStore — общее для всех инстансов хранилище кодов с TTL.
type OtpStore interface {
	// Put сохраняет вызов, заменяя предыдущий для того же телефона.
	Put(ctx context.Context, challenge OtpChallenge) error
	// Consume атомарно проверяет код: при совпадении удаляет вызов и
	// возвращает payload, при несовпадении уменьшает число попыток.
	// Вызов другой попытки (Payload.TransactionID != transactionID) даёт
	// ErrOtpMismatch и остаётся нетронутым.
	Consume(ctx context.Context, phone, transactionID, code string) (OtpPayload, error)
	// Invalidate удаляет вызов для телефона.
	Invalidate(ctx context.Context, phone string) error
}

// CommissionRepository хранит начисления агентам (insert-only).
type CommissionRepository interface {
	// Create возвращает ErrCommissionExists, если по подписке уже есть начисление.
	Create(ctx context.Context, c Commission) error
	ListByAgent(ctx context.Context, agentCode string) ([]Commission, error)
}

// NotificationRepository хранит пользовательские уведомления (insert-only).
type NotificationRepository interface {
	// Create возвращает ErrNotificationExists, если ID уже занят.
	Create(ctx context.Context, n Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]Notification, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// Stage сохраняет событие в транзакции, которую несёт ctx (см. SubscriptionMutation).
	// Без транзакции ведёт себя как Enqueue.
	Stage(ctx context.Context, msg OutboxMessage) error
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла подписки.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(subscriptionID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по Idempotency-Key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
