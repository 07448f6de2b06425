package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists sessions.
type Repository interface {
	// Create deactivates the user's other active sessions and inserts s atomically.
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	// LatestActive returns the most recently created active session for userID.
	LatestActive(ctx context.Context, userID string) (Session, error)
	Update(ctx context.Context, s Session) error
	Touch(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id, reason string) error
	DeactivateUser(ctx context.Context, userID, reason string) (int64, error)
	// DeactivateStale marks active sessions expired at now or idle since before idleBefore.
	DeactivateStale(ctx context.Context, now, idleBefore time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed session repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, token, is_authenticated, auth_level, expires_at, last_activity, is_active,
        COALESCE(invalidated_reason, ''), created_at`

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, s Session) error {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return err
	}
	uid, err := uuid.Parse(s.UserID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE sessions SET is_active = false, invalidated_reason = 'new_session'
        WHERE user_id = $1 AND is_active`, uid); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO sessions (id, user_id, token, is_authenticated, auth_level, expires_at,
        last_activity, is_active, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, uid, s.Token, s.IsAuthenticated, string(s.AuthLevel), s.ExpiresAt.UTC(), s.LastActivity.UTC(),
		s.IsActive, s.CreatedAt.UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Session, error) {
	sid, err := uuid.Parse(id)
	if err != nil {
		return Session{}, ErrNotFound
	}
	return scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sid))
}

// LatestActive implements Repository.
func (r *PostgresRepository) LatestActive(ctx context.Context, userID string) (Session, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Session{}, ErrNotFound
	}
	return scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
        WHERE user_id = $1 AND is_active ORDER BY created_at DESC LIMIT 1`, uid))
}

// Update implements Repository.
func (r *PostgresRepository) Update(ctx context.Context, s Session) error {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE sessions SET is_authenticated = $2, auth_level = $3, expires_at = $4,
        last_activity = $5, is_active = $6, invalidated_reason = NULLIF($7, '') WHERE id = $1`,
		id, s.IsAuthenticated, string(s.AuthLevel), s.ExpiresAt.UTC(), s.LastActivity.UTC(), s.IsActive,
		s.InvalidatedReason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch implements Repository.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	sid, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1`, sid, at.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate implements Repository.
func (r *PostgresRepository) Deactivate(ctx context.Context, id, reason string) error {
	sid, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `UPDATE sessions SET is_active = false, invalidated_reason = $2 WHERE id = $1`, sid, reason)
	return err
}

// DeactivateUser implements Repository.
func (r *PostgresRepository) DeactivateUser(ctx context.Context, userID, reason string) (int64, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = false, invalidated_reason = $2
        WHERE user_id = $1 AND is_active`, uid, reason)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// DeactivateStale implements Repository.
func (r *PostgresRepository) DeactivateStale(ctx context.Context, now, idleBefore time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = false, invalidated_reason = 'expired'
        WHERE is_active AND (expires_at <= $1 OR last_activity < $2)`, now.UTC(), idleBefore.UTC())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// Stats implements Repository.
func (r *PostgresRepository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	err := r.db.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_authenticated)
        FROM sessions WHERE is_active AND expires_at > $1`, now.UTC()).Scan(&st.Active, &st.Authenticated)
	return st, err
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		id, uid uuid.UUID
		level   string
		s       Session
	)
	if err := row.Scan(&id, &uid, &s.Token, &s.IsAuthenticated, &level, &s.ExpiresAt, &s.LastActivity,
		&s.IsActive, &s.InvalidatedReason, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.ID = id.String()
	s.UserID = uid.String()
	s.AuthLevel = AuthLevel(level)
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.LastActivity = s.LastActivity.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}
