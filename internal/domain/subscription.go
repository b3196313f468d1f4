package domain

import "time"

// SubscriptionStatus описывает жизненный цикл предложения страхового полиса.
type SubscriptionStatus string

const (
	// SubscriptionStatusProposition — предложение создано, оплата не начата.
	SubscriptionStatusProposition SubscriptionStatus = "proposition"
	// SubscriptionStatusPaymentPending — открыта платёжная сессия.
	SubscriptionStatusPaymentPending SubscriptionStatus = "payment_pending"
	// SubscriptionStatusPaid — первая премия подтверждена провайдером.
	SubscriptionStatusPaid SubscriptionStatus = "paid"
	// SubscriptionStatusContract — действующий контракт с номером полиса.
	SubscriptionStatusContract SubscriptionStatus = "contrat"
	// SubscriptionStatusRejected — предложение отклонено.
	SubscriptionStatusRejected SubscriptionStatus = "rejected"
)

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusProposition: {
		SubscriptionStatusPaymentPending,
		SubscriptionStatusRejected,
	},
	SubscriptionStatusPaymentPending: {
		SubscriptionStatusPaymentPending,
		SubscriptionStatusPaid,
		SubscriptionStatusContract,
		SubscriptionStatusRejected,
	},
	SubscriptionStatusPaid: {
		SubscriptionStatusContract,
	},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusProposition, SubscriptionStatusPaymentPending, SubscriptionStatusPaid,
		SubscriptionStatusContract, SubscriptionStatusRejected:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusContract || s == SubscriptionStatusRejected
}

// CanTransitionTo проверяет допустимость перехода.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Subscription — предложение страхового полиса и, после активации, контракт.
type Subscription struct {
	ID string
	// OwnerID — клиент, которому принадлежит полис.
	OwnerID string
	// AgentCode — код агента, оформившего продажу; пустой для прямых продаж.
	AgentCode       string
	ProductID       string
	ProductCategory string
	PremiumMinor    int64
	CapitalMinor    int64
	Currency        string
	DurationMonths  int32
	// Phone используется для уведомлений и оплаты мобильными деньгами.
	Phone         string
	Status        SubscriptionStatus
	PolicyNumber  string
	TransactionID string
	RejectReason  string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ValidatedAt   *time.Time
}

// ValidateInvariants проверяет базовые инварианты подписки и возвращает список замечаний.
func (s *Subscription) ValidateInvariants() []error {
	var errs []error

	if s.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if s.ProductID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if s.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if s.PremiumMinor <= 0 {
		errs = append(errs, ErrPremiumInvalid)
	}
	if s.CapitalMinor < 0 {
		errs = append(errs, ErrCapitalNegative)
	}
	if (s.PolicyNumber != "") != (s.Status == SubscriptionStatusContract) {
		errs = append(errs, ErrPolicyNumberInvariant)
	}

	return errs
}
