package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// sequenceRepositoryInMemory — счётчик в памяти процесса.
// Корректен только для одного инстанса; в проде используется PostgreSQL или Redis.
type sequenceRepositoryInMemory struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewSequenceRepository создаёт in-memory реализацию SequenceRepository.
func NewSequenceRepository() domain.SequenceRepository {
	return &sequenceRepositoryInMemory{counters: make(map[string]int64)}
}

func (r *sequenceRepositoryInMemory) Next(_ context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, domain.ErrSequenceKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[key]++
	return r.counters[key], nil
}

var _ domain.SequenceRepository = (*sequenceRepositoryInMemory)(nil)
