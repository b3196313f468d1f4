package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/policyhub/internal/payment"
)

// maxWebhookBody ограничивает размер уведомления провайдера.
const maxWebhookBody = 1 << 20

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	session, err := s.payments.CreateSession(c.Request.Context(), payment.SessionRequest{
		Provider:    req.Provider,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Country:     req.Country,
		Phone:       req.Phone,
		SuccessURL:  req.SuccessURL,
		ErrorURL:    req.ErrorURL,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionResponse(session))
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, err := s.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTransactionResponse(tx))
}

func (s *Server) capture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	out, err := s.subs.CaptureTransaction(c.Request.Context(), c.Param("id"), req.Code)
	if err != nil {
		abortWithOutcome(c, err, out)
		return
	}
	c.JSON(http.StatusOK, newOutcomeResponse(out))
}

func (s *Server) checkStatus(c *gin.Context) {
	out, err := s.subs.RefreshTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithOutcome(c, err, out)
		return
	}
	c.JSON(http.StatusOK, newOutcomeResponse(out))
}

func (s *Server) reissueChallenge(c *gin.Context) {
	if err := s.payments.ReissueChallenge(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (s *Server) providerWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		abortWithError(c, errInvalidRequest)
		return
	}

	out, err := s.subs.ApplyProviderNotification(c.Request.Context(), c.Param("provider"), payload, c.Request.Header)
	if err != nil {
		abortWithOutcome(c, err, out)
		return
	}
	c.JSON(http.StatusOK, newOutcomeResponse(out))
}
