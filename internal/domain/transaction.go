package domain

import "time"

// TransactionStatus описывает состояние попытки оплаты в реестре.
type TransactionStatus string

const (
	// TransactionStatusPending — попытка создана, итог ещё не известен.
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusCompleted — провайдер подтвердил списание.
	TransactionStatusCompleted TransactionStatus = "completed"
	// TransactionStatusFailed — попытка завершилась ошибкой или отказом.
	TransactionStatusFailed TransactionStatus = "failed"
)

// Terminal сообщает, что статус больше не меняется.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	default:
		return false
	}
}

// PaymentTransaction — одна строка реестра на каждую попытку оплаты.
type PaymentTransaction struct {
	ID string
	// SubscriptionID пустой для самостоятельной оплаты премии.
	SubscriptionID string
	AmountMinor    int64
	Currency       string
	Provider       string
	// CorrelationID — идентификатор операции на стороне провайдера.
	CorrelationID string
	Country       string
	Phone         string
	Status        TransactionStatus
	// RawResponse — последний сырой ответ провайдера (JSON).
	RawResponse []byte
	Message     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет корректность полей транзакции и возвращает ошибки, если они есть.
func (t *PaymentTransaction) Validate() []error {
	var errs []error

	if t.Provider == "" {
		errs = append(errs, ErrPaymentProviderRequired)
	}
	if t.AmountMinor <= 0 {
		errs = append(errs, ErrAmountInvalid)
	}
	if t.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}

	return errs
}
