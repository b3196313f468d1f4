package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

const transactionColumns = `
	id, subscription_id, amount_minor, currency, provider, correlation_id, country, phone,
	status, raw_response, message, created_at, updated_at`

type transactionRepository struct {
	store *Store
}

// NewTransactionRepository создаёт PostgreSQL-реализацию реестра платёжных попыток.
func NewTransactionRepository(store *Store) domain.TransactionRepository {
	return &transactionRepository{store: store}
}

func (r *transactionRepository) Create(ctx context.Context, tx domain.PaymentTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		tx.ID, nullString(tx.SubscriptionID), tx.AmountMinor, tx.Currency, tx.Provider,
		nullString(tx.CorrelationID), tx.Country, tx.Phone, string(tx.Status), tx.RawResponse,
		tx.Message, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTransactionExists
		}
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) Get(ctx context.Context, id string) (domain.PaymentTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.conn(ctx).QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (r *transactionRepository) GetByCorrelationID(ctx context.Context, provider, correlationID string) (domain.PaymentTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE provider = $1 AND correlation_id = $2
	`, provider, correlationID)
	return scanTransaction(row)
}

func (r *transactionRepository) SetCorrelationID(ctx context.Context, id, correlationID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET correlation_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, correlationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set correlation id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("correlation rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrTransactionClosed
	}
	return nil
}

// Resolve — compare-and-set из pending: закрытые записи не трогаются.
func (r *transactionRepository) Resolve(ctx context.Context, id string, status domain.TransactionStatus, raw []byte, message string) (domain.PaymentTransaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		UPDATE payment_transactions
		SET status = $2,
		    raw_response = COALESCE($3, raw_response),
		    message = CASE WHEN $4 = '' THEN message ELSE $4 END,
		    updated_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+transactionColumns,
		id, string(status), raw, message, time.Now().UTC(),
	)
	tx, err := scanTransaction(row)
	if err == nil {
		return tx, status.Terminal(), nil
	}
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		return domain.PaymentTransaction{}, false, fmt.Errorf("resolve payment transaction: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return domain.PaymentTransaction{}, false, err
	}
	return current, false, nil
}

func scanTransaction(row rowScanner) (domain.PaymentTransaction, error) {
	var (
		tx             domain.PaymentTransaction
		subscriptionID sql.NullString
		correlationID  sql.NullString
		status         string
	)

	err := row.Scan(
		&tx.ID, &subscriptionID, &tx.AmountMinor, &tx.Currency, &tx.Provider, &correlationID,
		&tx.Country, &tx.Phone, &status, &tx.RawResponse, &tx.Message, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
		}
		return domain.PaymentTransaction{}, fmt.Errorf("scan payment transaction: %w", err)
	}

	tx.SubscriptionID = subscriptionID.String
	tx.CorrelationID = correlationID.String
	tx.Status = domain.TransactionStatus(status)
	return tx, nil
}

var _ domain.TransactionRepository = (*transactionRepository)(nil)
