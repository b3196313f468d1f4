package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/subscription"
)

// errInvalidRequest — тело или параметры запроса не разобраны.
var errInvalidRequest = errors.New("invalid request")

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
	// Payment — текущее состояние попытки, если ошибка относится к ней.
	Payment *paymentResult `json:"payment,omitempty"`
}

// mapError сопоставляет доменные ошибки HTTP-статусу и типу ответа.
func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}
	case errors.Is(err, domain.ErrUnsupportedProvider):
		return http.StatusBadRequest, errorPayload{Type: "unsupported_provider", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{Type: "invalid_signature", Message: "invalid signature"}
	case errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrSubscriptionNotPayable):
		return http.StatusConflict, errorPayload{Type: "subscription_not_payable", Message: err.Error()}
	case errors.Is(err, domain.ErrSubscriptionAlreadyPaid):
		return http.StatusConflict, errorPayload{Type: "subscription_already_paid", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTransactionClosed),
		errors.Is(err, domain.ErrSubscriptionExists),
		errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, errorPayload{Type: "idempotency_mismatch", Message: err.Error()}
	case errors.Is(err, domain.ErrOtpRetriesExhausted):
		return http.StatusUnprocessableEntity, errorPayload{Type: "otp_retries_exhausted", Message: err.Error()}
	case errors.Is(err, domain.ErrOtpExpired):
		return http.StatusUnprocessableEntity, errorPayload{Type: "otp_expired", Message: err.Error()}
	case errors.Is(err, domain.ErrOtpMismatch):
		return http.StatusUnprocessableEntity, errorPayload{Type: "otp_mismatch", Message: err.Error()}
	case errors.Is(err, domain.ErrOperationNotSupported):
		return http.StatusUnprocessableEntity, errorPayload{Type: "operation_not_supported", Message: err.Error()}
	case errors.Is(err, domain.ErrProviderRejected):
		return http.StatusPaymentRequired, errorPayload{Type: "payment_rejected", Message: err.Error()}
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway, errorPayload{Type: "provider_unavailable", Message: "payment provider unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorPayload{Type: "timeout", Message: "request timed out"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

// abortWithError пишет ответ об ошибке.
func abortWithError(c *gin.Context, err error) {
	status, payload := mapError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: payload})
}

// abortWithOutcome пишет ответ об ошибке и прикладывает состояние попытки как payment.
func abortWithOutcome(c *gin.Context, err error, out subscription.PaymentOutcome) {
	if out.Transaction.ID == "" {
		abortWithError(c, err)
		return
	}
	status, payload := mapError(err)
	result := newOutcomeResult(out)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: payload, Payment: &result})
}
