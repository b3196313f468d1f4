package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

type commissionRepository struct {
	store *Store
}

// NewCommissionRepository создаёт PostgreSQL-реализацию CommissionRepository.
func NewCommissionRepository(store *Store) domain.CommissionRepository {
	return &commissionRepository{store: store}
}

func (r *commissionRepository) Create(ctx context.Context, c domain.Commission) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO commissions (
			id, subscription_id, agent_code, policy_number, base_minor, amount_minor, currency, rate, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.SubscriptionID, c.AgentCode, c.PolicyNumber, c.BaseMinor, c.AmountMinor, c.Currency, c.Rate, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCommissionExists
		}
		return fmt.Errorf("insert commission: %w", err)
	}
	return nil
}

func (r *commissionRepository) ListByAgent(ctx context.Context, agentCode string) ([]domain.Commission, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, subscription_id, agent_code, policy_number, base_minor, amount_minor, currency, rate, created_at
		FROM commissions
		WHERE agent_code = $1
		ORDER BY created_at, id
	`, agentCode)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Commission, 0)
	for rows.Next() {
		var c domain.Commission
		if err := rows.Scan(&c.ID, &c.SubscriptionID, &c.AgentCode, &c.PolicyNumber, &c.BaseMinor,
			&c.AmountMinor, &c.Currency, &c.Rate, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan commission: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commissions: %w", err)
	}
	return result, nil
}

type notificationRepository struct {
	store *Store
}

// NewNotificationRepository создаёт PostgreSQL-реализацию NotificationRepository.
func NewNotificationRepository(store *Store) domain.NotificationRepository {
	return &notificationRepository{store: store}
}

func (r *notificationRepository) Create(ctx context.Context, n domain.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, phone, subscription_id, kind, title, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, n.ID, n.RecipientID, n.Phone, n.SubscriptionID, string(n.Kind), n.Title, n.Body, n.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrNotificationExists
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, recipient_id, phone, subscription_id, kind, title, body, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{recipientID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Notification, 0)
	for rows.Next() {
		var (
			n    domain.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Phone, &n.SubscriptionID, &kind, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = domain.NotificationKind(kind)
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return result, nil
}

var (
	_ domain.CommissionRepository   = (*commissionRepository)(nil)
	_ domain.NotificationRepository = (*notificationRepository)(nil)
)
