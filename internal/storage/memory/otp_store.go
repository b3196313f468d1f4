package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// otpStoreInMemory хранит OTP-вызовы в памяти процесса.
// Подходит только для одного инстанса: код, выданный одним процессом,
// не виден другому.
type otpStoreInMemory struct {
	mu    sync.Mutex
	items map[string]domain.OtpChallenge
	now   func() time.Time
}

// NewOtpStore создаёт in-memory реализацию OtpStore.
func NewOtpStore() domain.OtpStore {
	return &otpStoreInMemory{
		items: make(map[string]domain.OtpChallenge),
		now:   time.Now,
	}
}

func (s *otpStoreInMemory) Put(_ context.Context, challenge domain.OtpChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[challenge.Phone] = challenge
	return nil
}

func (s *otpStoreInMemory) Consume(_ context.Context, phone, transactionID, code string) (domain.OtpPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.items[phone]
	if !ok {
		return domain.OtpPayload{}, domain.ErrOtpExpired
	}
	if challenge.Expired(s.now()) {
		delete(s.items, phone)
		return domain.OtpPayload{}, domain.ErrOtpExpired
	}
	if challenge.Payload.TransactionID != transactionID {
		return domain.OtpPayload{}, domain.ErrOtpMismatch
	}
	if challenge.AttemptsLeft <= 0 {
		return domain.OtpPayload{}, domain.ErrOtpRetriesExhausted
	}
	if challenge.Code == code {
		delete(s.items, phone)
		return challenge.Payload, nil
	}

	challenge.AttemptsLeft--
	s.items[phone] = challenge
	return domain.OtpPayload{}, domain.ErrOtpMismatch
}

func (s *otpStoreInMemory) Invalidate(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, phone)
	return nil
}

var _ domain.OtpStore = (*otpStoreInMemory)(nil)
