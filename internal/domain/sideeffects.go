package domain

import "time"

// Commission — начисление агенту за оформленный контракт.
type Commission struct {
	ID             string
	SubscriptionID string
	AgentCode      string
	PolicyNumber   string
	BaseMinor      int64
	AmountMinor    int64
	Currency       string
	Rate           string
	CreatedAt      time.Time
}

// NotificationKind задаёт тип пользовательского уведомления.
type NotificationKind string

const (
	// NotificationKindContractIssued — контракт активирован.
	NotificationKindContractIssued NotificationKind = "contract_issued"
)

// Notification — пользовательское событие, не связанное с жизненным циклом платежа.
type Notification struct {
	ID             string
	RecipientID    string
	Phone          string
	SubscriptionID string
	Kind           NotificationKind
	Title          string
	Body           string
	CreatedAt      time.Time
}
