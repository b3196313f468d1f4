package redisstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// SequenceRepository — счётчик на INCR. Долговечность зависит от настроек
// персистентности Redis (AOF), поэтому по умолчанию используется PostgreSQL.
type SequenceRepository struct {
	client *Client
}

// NewSequenceRepository создаёт Redis-реализацию SequenceRepository.
func NewSequenceRepository(client *Client) *SequenceRepository {
	return &SequenceRepository{client: client}
}

func (r *SequenceRepository) Next(ctx context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, domain.ErrSequenceKeyRequired
	}

	v, err := r.client.rdb.Incr(ctx, r.client.key("seq", key)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr sequence %s: %w", key, err)
	}
	return v, nil
}

var _ domain.SequenceRepository = (*SequenceRepository)(nil)
