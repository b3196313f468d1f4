package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

type commissionRepositoryInMemory struct {
	mu             sync.RWMutex
	bySubscription map[string]domain.Commission
}

// NewCommissionRepository создаёт in-memory реализацию CommissionRepository.
func NewCommissionRepository() domain.CommissionRepository {
	return &commissionRepositoryInMemory{bySubscription: make(map[string]domain.Commission)}
}

func (r *commissionRepositoryInMemory) Create(_ context.Context, c domain.Commission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySubscription[c.SubscriptionID]; exists {
		return domain.ErrCommissionExists
	}
	r.bySubscription[c.SubscriptionID] = c
	return nil
}

func (r *commissionRepositoryInMemory) ListByAgent(_ context.Context, agentCode string) ([]domain.Commission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Commission, 0)
	for _, c := range r.bySubscription {
		if c.AgentCode == agentCode {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type notificationRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Notification
}

// NewNotificationRepository создаёт in-memory реализацию NotificationRepository.
func NewNotificationRepository() domain.NotificationRepository {
	return &notificationRepositoryInMemory{items: make(map[string]domain.Notification)}
}

func (r *notificationRepositoryInMemory) Create(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[n.ID]; exists {
		return domain.ErrNotificationExists
	}
	r.items[n.ID] = n
	return nil
}

func (r *notificationRepositoryInMemory) ListByRecipient(_ context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Notification, 0)
	for _, n := range r.items {
		if n.RecipientID == recipientID {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var (
	_ domain.CommissionRepository   = (*commissionRepositoryInMemory)(nil)
	_ domain.NotificationRepository = (*notificationRepositoryInMemory)(nil)
)
