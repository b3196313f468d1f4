package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const (
	appendTimelineSQL = `
		INSERT INTO subscription_timeline (subscription_id, type, reason, occurred)
		VALUES ($1, $2, $3, $4)`

	// id разрешает порядок событий с одинаковой меткой времени.
	listTimelineSQL = `
		SELECT subscription_id, type, reason, occurred
		FROM subscription_timeline
		WHERE subscription_id = $1
		ORDER BY occurred, id`
)

type timelineRepository struct {
	store *Store
}

// NewTimelineRepository создаёт PostgreSQL-реализацию журнала подписки.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{store: store}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, appendTimelineSQL,
		event.SubscriptionID, event.Type, event.Reason, event.Occurred.UTC())
	if err != nil {
		return fmt.Errorf("timeline %s: append %q: %w", event.SubscriptionID, event.Type, err)
	}
	return nil
}

func (r *timelineRepository) List(subscriptionID string) (events []domain.TimelineEvent, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, listTimelineSQL, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("timeline %s: %w", subscriptionID, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("timeline %s: close rows: %w", subscriptionID, cerr)
		}
	}()

	events = []domain.TimelineEvent{}
	for rows.Next() {
		var e domain.TimelineEvent
		if err := rows.Scan(&e.SubscriptionID, &e.Type, &e.Reason, &e.Occurred); err != nil {
			return nil, fmt.Errorf("timeline %s: scan: %w", subscriptionID, err)
		}
		e.Occurred = e.Occurred.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline %s: %w", subscriptionID, err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
