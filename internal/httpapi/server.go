// Package httpapi — REST API продаж полисов поверх gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/payment"
	"github.com/vladislavdragonenkov/policyhub/internal/subscription"
)

// Subscriptions — операции машины состояний подписки, доступные через API.
type Subscriptions interface {
	Create(ctx context.Context, req subscription.CreateRequest) (domain.Subscription, error)
	Get(ctx context.Context, id string) (domain.Subscription, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Subscription, error)
	Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
	StartPayment(ctx context.Context, id string, req subscription.PaymentRequest) (payment.Session, error)
	ConfirmPayment(ctx context.Context, id, code string) (subscription.PaymentOutcome, error)
	RefreshPayment(ctx context.Context, id string) (subscription.PaymentOutcome, error)
	CaptureTransaction(ctx context.Context, transactionID, code string) (subscription.PaymentOutcome, error)
	RefreshTransaction(ctx context.Context, transactionID string) (subscription.PaymentOutcome, error)
	ApplyProviderNotification(ctx context.Context, provider string, payload []byte, headers http.Header) (subscription.PaymentOutcome, error)
	PromoteToContract(ctx context.Context, id string) (domain.Subscription, error)
	Reject(ctx context.Context, id, reason string) (domain.Subscription, error)
}

// Payments — операции реестра, не затрагивающие подписку.
type Payments interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
	ReissueChallenge(ctx context.Context, transactionID string) error
	Get(ctx context.Context, transactionID string) (domain.PaymentTransaction, error)
}

// Server — набор HTTP-обработчиков.
type Server struct {
	subs           Subscriptions
	payments       Payments
	idem           domain.IdempotencyRepository
	idempotencyTTL time.Duration
	logger         *log.Entry
	now            func() time.Time
}

// Option настраивает Server.
type Option func(*Server)

// WithIdempotency включает повтор ответов по заголовку Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(s *Server) {
		s.idem = repo
		s.idempotencyTTL = ttl
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer создаёт набор обработчиков.
func NewServer(subs Subscriptions, payments Payments, opts ...Option) *Server {
	s := &Server{
		subs:     subs,
		payments: payments,
		logger:   log.WithField("component", "http-api"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router собирает gin.Engine со всеми маршрутами API.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.Register(r)
	return r
}

// Register регистрирует маршруты на переданном роутере.
func (s *Server) Register(r gin.IRouter) {
	idem := idempotency(s.idem, s.idempotencyTTL, s.now, s.logger)

	v1 := r.Group("/api/v1")

	subs := v1.Group("/subscriptions")
	subs.POST("", idem, s.createSubscription)
	subs.GET("", s.listSubscriptions)
	subs.GET("/:id", s.getSubscription)
	subs.GET("/:id/timeline", s.subscriptionTimeline)
	subs.POST("/:id/payments", idem, s.startPayment)
	subs.POST("/:id/payments/confirm", idem, s.confirmPayment)
	subs.POST("/:id/payments/refresh", s.refreshPayment)
	subs.POST("/:id/promote", s.promote)
	subs.POST("/:id/reject", s.reject)

	payments := v1.Group("/payments")
	payments.POST("", idem, s.createSession)
	payments.GET("/:id", s.getTransaction)
	payments.POST("/:id/capture", idem, s.capture)
	payments.POST("/:id/status", s.checkStatus)
	payments.POST("/:id/otp", s.reissueChallenge)

	v1.POST("/webhooks/:provider", s.providerWebhook)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		entry := s.logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithError(c.Errors.Last().Err)
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
