package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// transactionRepositoryInMemory — in-memory реестр платёжных попыток.
type transactionRepositoryInMemory struct {
	mu            sync.RWMutex
	items         map[string]domain.PaymentTransaction
	byCorrelation map[string]string
}

// NewTransactionRepository создаёт in-memory реализацию TransactionRepository.
func NewTransactionRepository() domain.TransactionRepository {
	return &transactionRepositoryInMemory{
		items:         make(map[string]domain.PaymentTransaction),
		byCorrelation: make(map[string]string),
	}
}

func (r *transactionRepositoryInMemory) Create(_ context.Context, tx domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[tx.ID]; exists {
		return domain.ErrTransactionExists
	}
	r.items[tx.ID] = cloneTransaction(tx)
	if tx.CorrelationID != "" {
		r.byCorrelation[correlationKey(tx.Provider, tx.CorrelationID)] = tx.ID
	}
	return nil
}

func (r *transactionRepositoryInMemory) Get(_ context.Context, id string) (domain.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.items[id]
	if !ok {
		return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
	}
	return cloneTransaction(tx), nil
}

func (r *transactionRepositoryInMemory) GetByCorrelationID(_ context.Context, provider, correlationID string) (domain.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCorrelation[correlationKey(provider, correlationID)]
	if !ok {
		return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
	}
	return cloneTransaction(r.items[id]), nil
}

func (r *transactionRepositoryInMemory) SetCorrelationID(_ context.Context, id, correlationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.items[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if tx.Status.Terminal() {
		return domain.ErrTransactionClosed
	}
	if tx.CorrelationID != "" {
		delete(r.byCorrelation, correlationKey(tx.Provider, tx.CorrelationID))
	}
	tx.CorrelationID = correlationID
	tx.UpdatedAt = time.Now().UTC()
	r.items[id] = tx
	r.byCorrelation[correlationKey(tx.Provider, correlationID)] = id
	return nil
}

func (r *transactionRepositoryInMemory) Resolve(_ context.Context, id string, status domain.TransactionStatus, raw []byte, message string) (domain.PaymentTransaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.items[id]
	if !ok {
		return domain.PaymentTransaction{}, false, domain.ErrTransactionNotFound
	}
	if tx.Status.Terminal() {
		return cloneTransaction(tx), false, nil
	}

	tx.Status = status
	if raw != nil {
		tx.RawResponse = append([]byte(nil), raw...)
	}
	if message != "" {
		tx.Message = message
	}
	tx.UpdatedAt = time.Now().UTC()
	r.items[id] = tx

	return cloneTransaction(tx), status.Terminal(), nil
}

func correlationKey(provider, correlationID string) string {
	return provider + "\x00" + correlationID
}

func cloneTransaction(src domain.PaymentTransaction) domain.PaymentTransaction {
	dst := src
	dst.RawResponse = append([]byte(nil), src.RawResponse...)
	return dst
}

var _ domain.TransactionRepository = (*transactionRepositoryInMemory)(nil)
