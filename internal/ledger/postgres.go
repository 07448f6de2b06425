package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists transaction records in PostgreSQL.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const txColumns = `id, user_id, reference, COALESCE(external_reference, ''), type, status, amount, fee, currency,
        COALESCE(recipient_phone, ''), COALESCE(recipient_name, ''), COALESCE(biller_code, ''),
        COALESCE(biller_account, ''), COALESCE(product_code, ''), COALESCE(description, ''),
        COALESCE(failure_reason, ''), created_at, updated_at, completed_at`

// Create inserts a PENDING transaction.
func (l *PostgresLedger) Create(ctx context.Context, tx Transaction) error {
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.Status != StatusPending {
		return ErrInvalidTransition
	}
	id := uuid.New()
	if tx.ID != "" {
		parsed, err := uuid.Parse(tx.ID)
		if err != nil {
			return err
		}
		id = parsed
	}
	uid, err := uuid.Parse(tx.UserID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = l.db.Exec(ctx, `INSERT INTO transactions (id, user_id, reference, external_reference, type, status, amount,
        fee, currency, recipient_phone, recipient_name, biller_code, biller_account, product_code, description,
        created_at, updated_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
        NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''), $16, $16)`,
		id, uid, tx.Reference, tx.ExternalReference, string(tx.Type), string(tx.Status), tx.Amount, tx.Fee,
		tx.Currency, tx.RecipientPhone, tx.RecipientName, tx.BillerCode, tx.BillerAccount, tx.ProductCode,
		tx.Description, now)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateTransaction
	}
	return err
}

// Transition locks the row, checks the move is forward and applies it.
func (l *PostgresLedger) Transition(ctx context.Context, reference string, status Status, out Outcome) (Transaction, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference = $1 FOR UPDATE`, reference))
	if err != nil {
		return Transaction{}, err
	}
	if !CanTransition(current.Status, status) {
		return current, fmt.Errorf("%s → %s: %w", current.Status, status, ErrInvalidTransition)
	}

	apply(&current, status, out, time.Now().UTC())
	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $2, external_reference = NULLIF($3, ''),
        recipient_name = NULLIF($4, ''), failure_reason = NULLIF($5, ''), updated_at = $6, completed_at = $7
        WHERE reference = $1`,
		reference, string(current.Status), current.ExternalReference, current.RecipientName, current.FailureReason,
		current.UpdatedAt, nullTime(current.CompletedAt)); err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return current, nil
}

// Get fetches a transaction by reference.
func (l *PostgresLedger) Get(ctx context.Context, reference string) (Transaction, error) {
	return scanTransaction(l.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference = $1`, reference))
}

// ListByUser returns the user's most recent transactions.
func (l *PostgresLedger) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(ctx, `SELECT `+txColumns+` FROM transactions WHERE user_id = $1
        ORDER BY created_at DESC LIMIT $2`, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		id, uid     uuid.UUID
		txType      string
		status      string
		completedAt *time.Time
		t           Transaction
	)
	if err := row.Scan(&id, &uid, &t.Reference, &t.ExternalReference, &txType, &status, &t.Amount, &t.Fee,
		&t.Currency, &t.RecipientPhone, &t.RecipientName, &t.BillerCode, &t.BillerAccount, &t.ProductCode,
		&t.Description, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	t.ID = id.String()
	t.UserID = uid.String()
	t.Type = Type(txType)
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if completedAt != nil {
		t.CompletedAt = completedAt.UTC()
	}
	return t, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
