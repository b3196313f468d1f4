package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — общий класс ошибок валидации входящего запроса.
	ErrValidation = errors.New("validation error")
	// Ошибка отсутствующего владельца подписки (клиент или агент).
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка отсутствующего идентификатора продукта.
	ErrProductRequired = errors.New("product_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка неположительной премии.
	ErrPremiumInvalid = errors.New("premium_minor must be greater than zero")
	// Ошибка отрицательного капитала.
	ErrCapitalNegative = errors.New("capital_minor must be non-negative")
	// Ошибка неположительной суммы платежа.
	ErrAmountInvalid = errors.New("amount_minor must be greater than zero")
	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// Ошибка отсутствующего номера телефона для мобильных денег.
	ErrPhoneRequired = errors.New("phone is required")
	// Ошибка отсутствующих URL возврата для hosted checkout.
	ErrReturnURLRequired = errors.New("success_url and error_url are required")
	// Ошибка: номер полиса задан при статусе, отличном от contrat (и наоборот).
	ErrPolicyNumberInvariant = errors.New("policy number must be set iff status is contrat")

	// ErrSubscriptionNotFound возвращается, если подписка не найдена.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrSubscriptionExists — подписка с таким ID уже существует.
	ErrSubscriptionExists = errors.New("subscription already exists")
	// ErrSubscriptionNotPayable — продвижение в contrat без завершённого платежа.
	ErrSubscriptionNotPayable = errors.New("subscription not payable")
	// ErrSubscriptionAlreadyPaid — попытка открыть новую платёжную сессию для оплаченной подписки.
	ErrSubscriptionAlreadyPaid = errors.New("subscription already paid")
	// ErrInvalidTransition — недопустимый переход статуса подписки.
	ErrInvalidTransition = errors.New("invalid subscription status transition")

	// ErrTransactionNotFound возвращается, если запись реестра не найдена.
	ErrTransactionNotFound = errors.New("payment transaction not found")
	// ErrTransactionExists — запись реестра с таким ID уже существует.
	ErrTransactionExists = errors.New("payment transaction already exists")
	// ErrTransactionClosed — транзакция уже в конечном статусе и не может быть переиспользована.
	ErrTransactionClosed = errors.New("payment transaction is closed")

	// ErrUnsupportedProvider — провайдер с таким именем не зарегистрирован.
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	// ErrOperationNotSupported — провайдер не поддерживает запрошенную операцию.
	ErrOperationNotSupported = errors.New("operation not supported by provider")
	// ErrProviderUnavailable — сетевая ошибка или таймаут у провайдера.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderRejected — провайдер отклонил операцию (бизнес-ошибка).
	ErrProviderRejected = errors.New("payment provider rejected operation")
	// ErrInvalidSignature — подпись webhook-уведомления не сошлась.
	ErrInvalidSignature = errors.New("invalid provider signature")

	// ErrOtpExpired — код истёк или уже был использован.
	ErrOtpExpired = errors.New("otp expired")
	// ErrOtpMismatch — код не совпал.
	ErrOtpMismatch = errors.New("otp mismatch")
	// ErrOtpRetriesExhausted — превышено число попыток, вызов аннулирован.
	ErrOtpRetriesExhausted = errors.New("otp retries exhausted")

	// ErrSequenceKeyRequired — пустой ключ счётчика номеров полисов.
	ErrSequenceKeyRequired = errors.New("sequence key is required")

	// ErrCommissionExists — комиссия по подписке уже начислена.
	ErrCommissionExists = errors.New("commission already booked")
	// ErrNotificationExists — уведомление с таким ID уже создано.
	ErrNotificationExists = errors.New("notification already exists")

	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = errors.New("version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ProviderError переносит сырой ответ провайдера вместе с причиной ошибки,
// чтобы реестр сохранил его для аудита.
type ProviderError struct {
	Provider string
	Err      error
	Raw      []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError оборачивает ошибку провайдера с сырым ответом.
func NewProviderError(provider string, err error, raw []byte) *ProviderError {
	return &ProviderError{Provider: provider, Err: err, Raw: append([]byte(nil), raw...)}
}

// ValidationErrors объединяет список нарушений в одну ошибку класса ErrValidation.
func ValidationErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrValidation}, errs...)...)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsOtpError сообщает, что ошибка локальная (OTP) и внешний вызов не выполнялся.
func IsOtpError(err error) bool {
	return errors.Is(err, ErrOtpExpired) ||
		errors.Is(err, ErrOtpMismatch) ||
		errors.Is(err, ErrOtpRetriesExhausted)
}

// RawFromError извлекает сырой ответ провайдера, если он есть.
func RawFromError(err error) []byte {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Raw
	}
	return nil
}
