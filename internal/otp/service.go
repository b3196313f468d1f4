// Package otp выдаёт и проверяет одноразовые коды подтверждения платежей.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const (
	defaultCodeLength  = 5
	defaultTTL         = 5 * time.Minute
	defaultMaxAttempts = 3
)

// Generator возвращает числовой код заданной длины.
type Generator func(length int) (string, error)

// Config задаёт длину кода, время жизни и число попыток.
type Config struct {
	CodeLength  int
	TTL         time.Duration
	MaxAttempts int
}

// Service — фасад над OtpStore: генерация кода, TTL и лимит попыток.
type Service struct {
	store    domain.OtpStore
	cfg      Config
	generate Generator
	now      func() time.Time
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithGenerator подменяет генератор кодов (используется в тестах).
func WithGenerator(g Generator) Option {
	return func(s *Service) {
		if g != nil {
			s.generate = g
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт сервис; нулевые поля Config заменяются значениями по умолчанию.
func NewService(store domain.OtpStore, cfg Config, opts ...Option) *Service {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	s := &Service{
		store:    store,
		cfg:      cfg,
		generate: RandomDigits,
		now:      time.Now,
		logger:   log.WithField("component", "otp"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue генерирует код для телефона и сохраняет его вместе с payload.
// Предыдущий неиспользованный код для этого телефона перестаёт действовать.
func (s *Service) Issue(ctx context.Context, phone string, payload domain.OtpPayload) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", domain.ErrPhoneRequired
	}

	code, err := s.generate(s.cfg.CodeLength)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	challenge := domain.OtpChallenge{
		Phone:        phone,
		Code:         code,
		Payload:      payload,
		AttemptsLeft: s.cfg.MaxAttempts,
		ExpiresAt:    s.now().Add(s.cfg.TTL),
	}
	if err := s.store.Put(ctx, challenge); err != nil {
		return "", err
	}

	s.logger.WithFields(log.Fields{
		"transaction_id": payload.TransactionID,
		"expires_at":     challenge.ExpiresAt,
	}).Debug("otp issued")
	return code, nil
}

// Consume проверяет код вызова, выданного для transactionID, и при успехе
// возвращает payload; код принимается не более одного раза.
func (s *Service) Consume(ctx context.Context, phone, transactionID, code string) (domain.OtpPayload, error) {
	phone, code = strings.TrimSpace(phone), strings.TrimSpace(code)
	if phone == "" {
		return domain.OtpPayload{}, domain.ErrPhoneRequired
	}
	if code == "" {
		return domain.OtpPayload{}, domain.ErrOtpMismatch
	}
	return s.store.Consume(ctx, phone, transactionID, code)
}

// Invalidate снимает активный код для телефона.
func (s *Service) Invalidate(ctx context.Context, phone string) error {
	return s.store.Invalidate(ctx, strings.TrimSpace(phone))
}

// RandomDigits генерирует код из crypto/rand.
func RandomDigits(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
