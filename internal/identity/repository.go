package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByPhone(ctx context.Context, phone string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	Update(ctx context.Context, user User) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, phone, COALESCE(wallet_account_id, ''), is_registered, is_verified, is_blocked,
        blocked_until, COALESCE(blocked_reason, ''), pin_attempts, COALESCE(first_name, ''),
        COALESCE(last_name, ''), COALESCE(display_name, ''), last_activity, created_at, updated_at`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, phone, wallet_account_id, is_registered, is_verified, is_blocked,
        blocked_until, blocked_reason, pin_attempts, first_name, last_name, display_name, last_activity, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15)`,
		userID, user.Phone, user.WalletAccountID, user.IsRegistered, user.IsVerified, user.IsBlocked,
		nullTime(user.BlockedUntil), user.BlockedReason, user.PINAttempts, user.FirstName, user.LastName,
		user.DisplayName, user.LastActivity.UTC(), user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicatePhone
	}
	return err
}

// FindByPhone fetches a user by phone identifier.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return r.scan(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

// FindByID fetches a user by primary key.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	return r.scan(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// Update overwrites the mutable attributes of an existing user.
func (r *PostgresRepository) Update(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET wallet_account_id = NULLIF($2, ''), is_registered = $3,
        is_verified = $4, is_blocked = $5, blocked_until = $6, blocked_reason = NULLIF($7, ''), pin_attempts = $8,
        first_name = $9, last_name = $10, display_name = $11, last_activity = $12, updated_at = $13
        WHERE id = $1`,
		userID, user.WalletAccountID, user.IsRegistered, user.IsVerified, user.IsBlocked,
		nullTime(user.BlockedUntil), user.BlockedReason, user.PINAttempts, user.FirstName, user.LastName,
		user.DisplayName, user.LastActivity.UTC(), user.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) scan(row pgx.Row) (User, error) {
	var (
		id           uuid.UUID
		blockedUntil *time.Time
		user         User
	)
	err := row.Scan(&id, &user.Phone, &user.WalletAccountID, &user.IsRegistered, &user.IsVerified, &user.IsBlocked,
		&blockedUntil, &user.BlockedReason, &user.PINAttempts, &user.FirstName, &user.LastName, &user.DisplayName,
		&user.LastActivity, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	if blockedUntil != nil {
		user.BlockedUntil = blockedUntil.UTC()
	}
	user.LastActivity = user.LastActivity.UTC()
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
