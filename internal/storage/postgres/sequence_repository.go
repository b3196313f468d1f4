package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

type sequenceRepository struct {
	store *Store
}

// NewSequenceRepository создаёт счётчик на таблице policy_sequences.
func NewSequenceRepository(store *Store) domain.SequenceRepository {
	return &sequenceRepository{store: store}
}

// Next выполняет инкремент одним upsert-запросом: конкурентные вызовы
// сериализуются блокировкой строки внутри PostgreSQL. Внутри транзакции
// из ctx инкремент откатывается вместе с ней.
func (r *sequenceRepository) Next(ctx context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, domain.ErrSequenceKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var value int64
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO policy_sequences (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = policy_sequences.value + 1
		RETURNING value
	`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next sequence value %s: %w", key, err)
	}
	return value, nil
}

var _ domain.SequenceRepository = (*sequenceRepository)(nil)
