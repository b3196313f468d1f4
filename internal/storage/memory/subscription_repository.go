package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// subscriptionRepositoryInMemory — in-memory реализация SubscriptionRepository.
// Блокировка строки эмулируется мьютексом на каждую подписку.
type subscriptionRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Subscription
	locks map[string]*sync.Mutex
}

// NewSubscriptionRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewSubscriptionRepository() domain.SubscriptionRepository {
	return &subscriptionRepositoryInMemory{
		items: make(map[string]domain.Subscription),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *subscriptionRepositoryInMemory) Create(_ context.Context, sub domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sub.ID]; exists {
		return domain.ErrSubscriptionExists
	}
	r.items[sub.ID] = cloneSubscription(sub)
	r.locks[sub.ID] = &sync.Mutex{}
	return nil
}

func (r *subscriptionRepositoryInMemory) Get(_ context.Context, id string) (domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.items[id]
	if !ok {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

func (r *subscriptionRepositoryInMemory) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Subscription, 0)
	for _, sub := range r.items {
		if sub.OwnerID != ownerID {
			continue
		}
		result = append(result, cloneSubscription(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *subscriptionRepositoryInMemory) Update(ctx context.Context, id string, mutate domain.SubscriptionMutation) (domain.Subscription, error) {
	r.mu.RLock()
	rowLock, ok := r.locks[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}

	rowLock.Lock()
	defer rowLock.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Subscription{}, err
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	changed, err := mutate(ctx, &current)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !changed {
		return current, nil
	}

	current.Version++
	r.mu.Lock()
	r.items[id] = cloneSubscription(current)
	r.mu.Unlock()

	return current, nil
}

func cloneSubscription(src domain.Subscription) domain.Subscription {
	dst := src
	if src.ValidatedAt != nil {
		v := *src.ValidatedAt
		dst.ValidatedAt = &v
	}
	return dst
}

var _ domain.SubscriptionRepository = (*subscriptionRepositoryInMemory)(nil)
