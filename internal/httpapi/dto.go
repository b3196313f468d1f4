package httpapi

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
	"github.com/vladislavdragonenkov/policyhub/internal/subscription"
)

type createSubscriptionRequest struct {
	OwnerID         string `json:"ownerId" binding:"required"`
	AgentCode       string `json:"agentCode"`
	ProductID       string `json:"productId" binding:"required"`
	ProductCategory string `json:"productCategory"`
	PremiumMinor    int64  `json:"premiumMinor"`
	CapitalMinor    int64  `json:"capitalMinor"`
	Currency        string `json:"currency"`
	DurationMonths  int32  `json:"durationMonths"`
	Phone           string `json:"phone"`
}

func (r createSubscriptionRequest) toDomain() subscription.CreateRequest {
	return subscription.CreateRequest{
		OwnerID:         r.OwnerID,
		AgentCode:       r.AgentCode,
		ProductID:       r.ProductID,
		ProductCategory: r.ProductCategory,
		PremiumMinor:    r.PremiumMinor,
		CapitalMinor:    r.CapitalMinor,
		Currency:        r.Currency,
		DurationMonths:  r.DurationMonths,
		Phone:           r.Phone,
	}
}

type startPaymentRequest struct {
	Provider   string `json:"provider" binding:"required"`
	Phone      string `json:"phone"`
	Country    string `json:"country"`
	SuccessURL string `json:"successUrl"`
	ErrorURL   string `json:"errorUrl"`
}

type createSessionRequest struct {
	Provider    string `json:"provider" binding:"required"`
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
	Country     string `json:"country"`
	Phone       string `json:"phone"`
	SuccessURL  string `json:"successUrl"`
	ErrorURL    string `json:"errorUrl"`
}

type captureRequest struct {
	Code string `json:"code" binding:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type subscriptionResponse struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	AgentCode       string     `json:"agentCode,omitempty"`
	ProductID       string     `json:"productId"`
	ProductCategory string     `json:"productCategory,omitempty"`
	PremiumMinor    int64      `json:"premiumMinor"`
	CapitalMinor    int64      `json:"capitalMinor"`
	Currency        string     `json:"currency"`
	DurationMonths  int32      `json:"durationMonths"`
	Status          string     `json:"status"`
	PolicyNumber    string     `json:"policyNumber,omitempty"`
	TransactionID   string     `json:"transactionId,omitempty"`
	RejectReason    string     `json:"rejectReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ValidatedAt     *time.Time `json:"validatedAt,omitempty"`
}

func newSubscriptionResponse(sub domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:              sub.ID,
		OwnerID:         sub.OwnerID,
		AgentCode:       sub.AgentCode,
		ProductID:       sub.ProductID,
		ProductCategory: sub.ProductCategory,
		PremiumMinor:    sub.PremiumMinor,
		CapitalMinor:    sub.CapitalMinor,
		Currency:        sub.Currency,
		DurationMonths:  sub.DurationMonths,
		Status:          string(sub.Status),
		PolicyNumber:    sub.PolicyNumber,
		TransactionID:   sub.TransactionID,
		RejectReason:    sub.RejectReason,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.UpdatedAt,
		ValidatedAt:     sub.ValidatedAt,
	}
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type sessionResponse struct {
	TransactionID string `json:"transactionId"`
	Provider      string `json:"provider"`
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlationId"`
	LaunchURL     string `json:"launchUrl,omitempty"`
	Status        string `json:"status"`
}

func newSessionResponse(s payment.Session) sessionResponse {
	return sessionResponse{
		TransactionID: s.TransactionID,
		Provider:      s.Provider,
		Kind:          string(s.Kind),
		CorrelationID: s.CorrelationID,
		LaunchURL:     s.LaunchURL,
		Status:        string(s.Status),
	}
}

// paymentResult — ответ вызывающей стороне по итогу платёжной операции.
type paymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

func newPaymentResult(tx domain.PaymentTransaction) paymentResult {
	return paymentResult{
		Success:       tx.Status == domain.TransactionStatusCompleted,
		TransactionID: tx.ID,
		Status:        string(tx.Status),
		Message:       tx.Message,
	}
}

type outcomeResponse struct {
	paymentResult
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

// newOutcomeResult предпочитает пояснение операции сообщению из реестра.
func newOutcomeResult(out subscription.PaymentOutcome) paymentResult {
	result := newPaymentResult(out.Transaction)
	if out.Message != "" {
		result.Message = out.Message
	}
	return result
}

func newOutcomeResponse(out subscription.PaymentOutcome) outcomeResponse {
	resp := outcomeResponse{paymentResult: newOutcomeResult(out)}
	if out.Subscription.ID != "" {
		sub := newSubscriptionResponse(out.Subscription)
		resp.Subscription = &sub
	}
	return resp
}

type transactionResponse struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	AmountMinor    int64           `json:"amountMinor"`
	Currency       string          `json:"currency"`
	Provider       string          `json:"provider"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Country        string          `json:"country,omitempty"`
	Status         string          `json:"status"`
	Message        string          `json:"message,omitempty"`
	RawResponse    json.RawMessage `json:"rawResponse,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func newTransactionResponse(tx domain.PaymentTransaction) transactionResponse {
	resp := transactionResponse{
		ID:             tx.ID,
		SubscriptionID: tx.SubscriptionID,
		AmountMinor:    tx.AmountMinor,
		Currency:       tx.Currency,
		Provider:       tx.Provider,
		CorrelationID:  tx.CorrelationID,
		Country:        tx.Country,
		Status:         string(tx.Status),
		Message:        tx.Message,
		CreatedAt:      tx.CreatedAt,
		UpdatedAt:      tx.UpdatedAt,
	}
	if json.Valid(tx.RawResponse) {
		resp.RawResponse = json.RawMessage(tx.RawResponse)
	}
	return resp
}
