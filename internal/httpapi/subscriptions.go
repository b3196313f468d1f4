package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/policyhub/internal/subscription"
)

func (s *Server) createSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	sub, err := s.subs.Create(c.Request.Context(), req.toDomain())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSubscriptionResponse(sub))
}

func (s *Server) getSubscription(c *gin.Context) {
	sub, err := s.subs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}

func (s *Server) listSubscriptions(c *gin.Context) {
	owner := c.Query("ownerId")
	if owner == "" {
		abortWithError(c, fmt.Errorf("%w: ownerId is required", errInvalidRequest))
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			abortWithError(c, fmt.Errorf("%w: limit must be a non-negative integer", errInvalidRequest))
			return
		}
		limit = parsed
	}

	subs, err := s.subs.ListByOwner(c.Request.Context(), owner, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	items := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		items = append(items, newSubscriptionResponse(sub))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) subscriptionTimeline(c *gin.Context) {
	events, err := s.subs.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	items := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		items = append(items, timelineEventResponse{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	c.JSON(http.StatusOK, gin.H{"events": items})
}

func (s *Server) startPayment(c *gin.Context) {
	var req startPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	session, err := s.subs.StartPayment(c.Request.Context(), c.Param("id"), subscription.PaymentRequest{
		Provider:   req.Provider,
		Phone:      req.Phone,
		Country:    req.Country,
		SuccessURL: req.SuccessURL,
		ErrorURL:   req.ErrorURL,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionResponse(session))
}

func (s *Server) confirmPayment(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	out, err := s.subs.ConfirmPayment(c.Request.Context(), c.Param("id"), req.Code)
	if err != nil {
		abortWithOutcome(c, err, out)
		return
	}
	c.JSON(http.StatusOK, newOutcomeResponse(out))
}

func (s *Server) refreshPayment(c *gin.Context) {
	out, err := s.subs.RefreshPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithOutcome(c, err, out)
		return
	}
	c.JSON(http.StatusOK, newOutcomeResponse(out))
}

func (s *Server) promote(c *gin.Context) {
	sub, err := s.subs.PromoteToContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}

func (s *Server) reject(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
			return
		}
	}

	sub, err := s.subs.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}
