package domain

import "time"

// OtpPayload — данные, необходимые для завершения списания после проверки кода.
type OtpPayload struct {
	TransactionID  string `json:"transaction_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	AmountMinor    int64  `json:"amount_minor"`
	Country        string `json:"country,omitempty"`
}

// OtpChallenge — одноразовый код, привязанный к номеру телефона.
type OtpChallenge struct {
	Phone        string
	Code         string
	Payload      OtpPayload
	AttemptsLeft int
	ExpiresAt    time.Time
}

// Expired сообщает, истёк ли код к моменту now.
func (c OtpChallenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
