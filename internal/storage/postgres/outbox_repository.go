package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const defaultOutboxBatch = 100

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

const (
	insertOutboxSQL = `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		ON CONFLICT (id) DO NOTHING`

	selectPendingOutboxSQL = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`

	outboxBacklogSQL = `
		SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`

	settleOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`
)

// outboxRepository хранит события в той же базе, что и подписки, чтобы
// запись события и изменение агрегата фиксировались вместе.
type outboxRepository struct {
	store *Store
	now   func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию transactional outbox.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue сохраняет событие; повторная вставка с тем же ID ничего не меняет.
func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	err := r.withTimeout(func(ctx context.Context) error {
		_, err := r.store.db.ExecContext(ctx, insertOutboxSQL,
			msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxPending, r.now())
		return err
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// Stage записывает событие через транзакцию из ctx: строка outbox появляется
// только вместе с зафиксированным изменением агрегата.
func (r *outboxRepository) Stage(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, insertOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxPending, r.now())
	if err != nil {
		return fmt.Errorf("stage %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return nil
}

// PullPending отдаёт самые старые неотправленные события.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	var batch []domain.OutboxMessage
	err := r.withTimeout(func(ctx context.Context) error {
		rows, err := r.store.db.QueryContext(ctx, selectPendingOutboxSQL, outboxPending, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		batch = make([]domain.OutboxMessage, 0, limit)
		for rows.Next() {
			msg, err := scanOutboxMessage(rows)
			if err != nil {
				return err
			}
			batch = append(batch, msg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox: %w", err)
	}
	return batch, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	var (
		count  int
		oldest sql.NullTime
	)
	err := r.withTimeout(func(ctx context.Context) error {
		return r.store.db.QueryRowContext(ctx, outboxBacklogSQL, outboxPending).Scan(&count, &oldest)
	})
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}

	stats := domain.OutboxStats{PendingCount: count}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.settle(id, outboxSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.settle(id, outboxFailed)
}

// settle переводит событие в финальный статус и увеличивает счётчик попыток.
func (r *outboxRepository) settle(id string, status string) error {
	affected, err := r.store.execAffected(settleOutboxSQL, id, status, r.now())
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	}
	if affected == 0 {
		return fmt.Errorf("outbox message %s not found: %w", id, domain.ErrOutboxPublish)
	}
	return nil
}

func (r *outboxRepository) withTimeout(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return fn(ctx)
}

func scanOutboxMessage(row rowScanner) (domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	err := row.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload)
	return msg, err
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
