package domain

import "time"

// ContractIssuedEvent — payload события OutboxEventContractIssued.
type ContractIssuedEvent struct {
	SubscriptionID  string    `json:"subscription_id"`
	OwnerID         string    `json:"owner_id"`
	AgentCode       string    `json:"agent_code,omitempty"`
	ProductID       string    `json:"product_id"`
	ProductCategory string    `json:"product_category,omitempty"`
	PolicyNumber    string    `json:"policy_number"`
	PremiumMinor    int64     `json:"premium_minor"`
	Currency        string    `json:"currency"`
	Phone           string    `json:"phone,omitempty"`
	IssuedAt        time.Time `json:"issued_at"`
}

// NewContractIssuedEvent строит payload из выпущенного контракта.
func NewContractIssuedEvent(sub Subscription) ContractIssuedEvent {
	issued := sub.UpdatedAt
	if sub.ValidatedAt != nil {
		issued = *sub.ValidatedAt
	}
	return ContractIssuedEvent{
		SubscriptionID:  sub.ID,
		OwnerID:         sub.OwnerID,
		AgentCode:       sub.AgentCode,
		ProductID:       sub.ProductID,
		ProductCategory: sub.ProductCategory,
		PolicyNumber:    sub.PolicyNumber,
		PremiumMinor:    sub.PremiumMinor,
		Currency:        sub.Currency,
		Phone:           sub.Phone,
		IssuedAt:        issued,
	}
}

// PaymentResolvedEvent — payload события OutboxEventPaymentResolved.
type PaymentResolvedEvent struct {
	TransactionID  string            `json:"transaction_id"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Provider       string            `json:"provider"`
	Status         TransactionStatus `json:"status"`
	AmountMinor    int64             `json:"amount_minor"`
	Currency       string            `json:"currency"`
	Message        string            `json:"message,omitempty"`
	ResolvedAt     time.Time         `json:"resolved_at"`
}

// NewPaymentResolvedEvent строит payload из закрытой записи реестра.
func NewPaymentResolvedEvent(tx PaymentTransaction) PaymentResolvedEvent {
	return PaymentResolvedEvent{
		TransactionID:  tx.ID,
		SubscriptionID: tx.SubscriptionID,
		Provider:       tx.Provider,
		Status:         tx.Status,
		AmountMinor:    tx.AmountMinor,
		Currency:       tx.Currency,
		Message:        tx.Message,
		ResolvedAt:     tx.UpdatedAt,
	}
}
