package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const subscriptionColumns = `
	id, owner_id, agent_code, product_id, product_category, premium_minor, capital_minor,
	currency, duration_months, phone, status, policy_number, transaction_id, reject_reason,
	version, created_at, updated_at, validated_at`

type subscriptionRepository struct {
	store *Store
}

// NewSubscriptionRepository создаёт PostgreSQL-реализацию SubscriptionRepository.
func NewSubscriptionRepository(store *Store) domain.SubscriptionRepository {
	return &subscriptionRepository{store: store}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub domain.Subscription) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		sub.ID, sub.OwnerID, sub.AgentCode, sub.ProductID, sub.ProductCategory,
		sub.PremiumMinor, sub.CapitalMinor, sub.Currency, sub.DurationMonths, sub.Phone,
		string(sub.Status), nullString(sub.PolicyNumber), nullString(sub.TransactionID), sub.RejectReason,
		sub.Version, sub.CreatedAt, sub.UpdatedAt, sub.ValidatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSubscriptionExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (r *subscriptionRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return result, nil
}

// setLockTimeout действует до конца транзакции.
var setLockTimeout = fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())

// Update берёт строку под SELECT ... FOR UPDATE, так что конкурентные
// переходы одной подписки выполняются строго по очереди. Ожидание чужой
// блокировки ограничено lockTimeout, вся транзакция — txTimeout.
// mutate получает ctx с этой транзакцией.
func (r *subscriptionRepository) Update(ctx context.Context, id string, mutate domain.SubscriptionMutation) (domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	var result domain.Subscription
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, setLockTimeout); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id)
		current, err := scanSubscription(row)
		if err != nil {
			if isLockTimeout(err) {
				return fmt.Errorf("subscription %s is locked: %w", id, domain.ErrVersionConflict)
			}
			return err
		}

		changed, err := mutate(withTx(ctx, tx), &current)
		if err != nil {
			if isLockTimeout(err) {
				return fmt.Errorf("subscription %s: %w", id, domain.ErrVersionConflict)
			}
			return err
		}
		result = current
		if !changed {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE subscriptions
			SET status = $2,
			    policy_number = $3,
			    transaction_id = $4,
			    reject_reason = $5,
			    phone = $6,
			    version = version + 1,
			    updated_at = $7,
			    validated_at = $8
			WHERE id = $1 AND version = $9
		`,
			current.ID, string(current.Status), nullString(current.PolicyNumber), nullString(current.TransactionID),
			current.RejectReason, current.Phone, current.UpdatedAt, current.ValidatedAt, current.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("policy number %s already issued: %w", current.PolicyNumber, domain.ErrVersionConflict)
			}
			return fmt.Errorf("update subscription: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("subscription rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrVersionConflict
		}
		result.Version++
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return result, nil
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var (
		sub           domain.Subscription
		status        string
		policyNumber  sql.NullString
		transactionID sql.NullString
		validatedAt   sql.NullTime
	)

	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.AgentCode, &sub.ProductID, &sub.ProductCategory,
		&sub.PremiumMinor, &sub.CapitalMinor, &sub.Currency, &sub.DurationMonths, &sub.Phone,
		&status, &policyNumber, &transactionID, &sub.RejectReason,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt, &validatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscription{}, domain.ErrSubscriptionNotFound
		}
		return domain.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}

	sub.Status = domain.SubscriptionStatus(status)
	sub.PolicyNumber = policyNumber.String
	sub.TransactionID = transactionID.String
	if validatedAt.Valid {
		t := validatedAt.Time.UTC()
		sub.ValidatedAt = &t
	}
	return sub, nil
}

var _ domain.SubscriptionRepository = (*subscriptionRepository)(nil)
