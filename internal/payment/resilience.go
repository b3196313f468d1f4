package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// ErrCircuitOpen возвращается, пока провайдер считается недоступным.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", domain.ErrProviderUnavailable)

// ResilienceConfig настраивает защиту вызовов провайдера.
type ResilienceConfig struct {
	// MaxFailures подряд открывают breaker; 0 отключает его.
	MaxFailures  int
	ResetTimeout time.Duration
	// StatusRetries — дополнительные попытки CheckStatus при сетевых ошибках.
	StatusRetries int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultResilienceConfig возвращает конфигурацию по умолчанию.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxFailures:   5,
		ResetTimeout:  30 * time.Second,
		StatusRetries: 2,
		RetryDelay:    200 * time.Millisecond,
		MaxRetryDelay: 2 * time.Second,
	}
}

// CircuitState — состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker считает подряд идущие отказы провайдера.
// Бизнес-отказы (rejected, not supported) не считаются отказами.
// В half-open пропускается ровно один пробный вызов; остальные получают
// ErrCircuitOpen, пока он не завершится.
type CircuitBreaker struct {
	mu            sync.Mutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	openedAt      time.Time
	state         CircuitState
	trialInFlight bool
	now           func() time.Time
	logger        *log.Entry
}

// NewCircuitBreaker создаёт breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// allow решает, можно ли вызвать провайдера. trial=true означает, что это
// единственный вызов half-open, и его итог решает судьбу breaker.
func (cb *CircuitBreaker) allow(operation string) (trial bool, err error) {
	if cb == nil || cb.maxFailures <= 0 {
		return false, nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitHalfOpen:
		if cb.trialInFlight {
			return false, ErrCircuitOpen
		}
	default:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	}
	cb.trialInFlight = true
	return true, nil
}

func (cb *CircuitBreaker) record(operation string, trial bool, err error) {
	if cb == nil || cb.maxFailures <= 0 {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	} else if cb.state != CircuitClosed {
		// Вызов, начатый до открытия breaker: состояние решает пробный вызов.
		return
	}

	if !isTransient(err) {
		if cb.state == CircuitHalfOpen {
			cb.logger.WithField("operation", operation).Info("circuit breaker closed")
		}
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
		cb.logger.WithFields(log.Fields{
			"operation": operation,
			"failures":  cb.failures,
		}).Warn("circuit breaker opened")
	}
}

func isTransient(err error) bool {
	return err != nil && (errors.Is(err, domain.ErrProviderUnavailable) ||
		errors.Is(err, context.DeadlineExceeded))
}

// GuardedProvider оборачивает адаптер breaker-ом; CheckStatus повторяется
// при сетевых ошибках. Confirm не повторяется: списание не идемпотентно.
type GuardedProvider struct {
	inner   domain.PaymentProvider
	breaker *CircuitBreaker
	cfg     ResilienceConfig
	logger  *log.Entry
}

// Guard создаёт защищённый адаптер.
func Guard(inner domain.PaymentProvider, cfg ResilienceConfig, logger *log.Entry) *GuardedProvider {
	if logger == nil {
		logger = log.WithField("component", "provider-guard")
	}
	logger = logger.WithField("provider", inner.Name())
	return &GuardedProvider{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout, logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// Breaker возвращает breaker адаптера.
func (g *GuardedProvider) Breaker() *CircuitBreaker { return g.breaker }

func (g *GuardedProvider) Name() string              { return g.inner.Name() }
func (g *GuardedProvider) Kind() domain.ProviderKind { return g.inner.Kind() }

func (g *GuardedProvider) Initiate(ctx context.Context, req domain.InitiateRequest) (domain.InitiateResult, error) {
	trial, err := g.breaker.allow("initiate")
	if err != nil {
		return domain.InitiateResult{}, err
	}
	res, err := g.inner.Initiate(ctx, req)
	g.breaker.record("initiate", trial, err)
	return res, err
}

func (g *GuardedProvider) Confirm(ctx context.Context, req domain.ConfirmRequest) (domain.ProviderResult, error) {
	trial, err := g.breaker.allow("confirm")
	if err != nil {
		return domain.ProviderResult{}, err
	}
	res, err := g.inner.Confirm(ctx, req)
	g.breaker.record("confirm", trial, err)
	return res, err
}

func (g *GuardedProvider) CheckStatus(ctx context.Context, correlationID string) (domain.ProviderResult, error) {
	delay := g.cfg.RetryDelay
	var lastErr error
	for attempt := 0; attempt <= g.cfg.StatusRetries; attempt++ {
		trial, err := g.breaker.allow("check_status")
		if err != nil {
			return domain.ProviderResult{}, err
		}
		res, err := g.inner.CheckStatus(ctx, correlationID)
		g.breaker.record("check_status", trial, err)
		if !isTransient(err) {
			return res, err
		}
		lastErr = err

		if attempt == g.cfg.StatusRetries {
			break
		}
		g.logger.WithFields(log.Fields{
			"correlation_id": correlationID,
			"attempt":        attempt + 1,
			"delay":          delay,
		}).WithError(err).Warn("status check failed, retrying")

		select {
		case <-ctx.Done():
			return domain.ProviderResult{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if g.cfg.MaxRetryDelay > 0 && delay > g.cfg.MaxRetryDelay {
			delay = g.cfg.MaxRetryDelay
		}
	}
	return domain.ProviderResult{}, lastErr
}

// ParseWebhook делегирует разбор уведомления, если адаптер его поддерживает.
func (g *GuardedProvider) ParseWebhook(payload []byte, headers http.Header) (domain.ProviderNotification, error) {
	parser, ok := g.inner.(WebhookParser)
	if !ok {
		return domain.ProviderNotification{}, fmt.Errorf("webhooks via %s: %w", g.inner.Name(), domain.ErrOperationNotSupported)
	}
	return parser.ParseWebhook(payload, headers)
}

var (
	_ domain.PaymentProvider = (*GuardedProvider)(nil)
	_ WebhookParser          = (*GuardedProvider)(nil)
)
