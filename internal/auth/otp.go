package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Purpose scopes an OTP challenge.
type Purpose string

const (
	PurposeRegistration Purpose = "REGISTRATION"
	PurposeLogin        Purpose = "LOGIN"
	PurposeTransaction  Purpose = "TRANSACTION"
	PurposePINReset     Purpose = "PIN_RESET"
	PurposeDevice       Purpose = "DEVICE_VERIFICATION"
)

var errOTPNotFound = errors.New("otp not found")

// OTP is a one-time code challenge. Only the bcrypt hash of the code is kept.
type OTP struct {
	ID          string
	UserID      string
	Phone       string
	CodeHash    string
	Purpose     Purpose
	Reference   string
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	IsUsed      bool
	IsExpired   bool
	UsedAt      time.Time
	CreatedAt   time.Time
}

// Open reports whether the record has been neither consumed nor invalidated.
// Time expiry is checked separately.
func (o OTP) Open() bool {
	return !o.IsUsed && !o.IsExpired
}

// Live reports whether the challenge can still be answered at now.
func (o OTP) Live(now time.Time) bool {
	return o.Open() && now.Before(o.ExpiresAt)
}

// OTPRepository persists OTP challenges.
type OTPRepository interface {
	Create(ctx context.Context, otp OTP) error
	// ListOpen returns unused, non-invalidated records, newest first.
	ListOpen(ctx context.Context, userID string, purpose Purpose) ([]OTP, error)
	Update(ctx context.Context, otp OTP) error
	// ExpireOpen invalidates every open record of purpose for the user.
	ExpireOpen(ctx context.Context, userID string, purpose Purpose) (int64, error)
}

// PostgresOTPRepository stores OTPs in PostgreSQL.
type PostgresOTPRepository struct {
	db *pgxpool.Pool
}

// NewPostgresOTPRepository builds a Postgres-backed OTP store.
func NewPostgresOTPRepository(db *pgxpool.Pool) *PostgresOTPRepository {
	return &PostgresOTPRepository{db: db}
}

// Create inserts a challenge.
func (r *PostgresOTPRepository) Create(ctx context.Context, otp OTP) error {
	id, err := uuid.Parse(otp.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(otp.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO otps (id, user_id, phone, code_hash, purpose, reference, expires_at,
        attempts, max_attempts, is_used, is_expired, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, userID, otp.Phone, otp.CodeHash, string(otp.Purpose), otp.Reference, otp.ExpiresAt.UTC(),
		otp.Attempts, otp.MaxAttempts, otp.IsUsed, otp.IsExpired, otp.CreatedAt.UTC())
	return err
}

// ListOpen implements OTPRepository.
func (r *PostgresOTPRepository) ListOpen(ctx context.Context, userID string, purpose Purpose) ([]OTP, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", userID, err)
	}
	rows, err := r.db.Query(ctx, `SELECT id, user_id, phone, code_hash, purpose, reference, expires_at, attempts,
        max_attempts, is_used, is_expired, created_at
        FROM otps WHERE user_id = $1 AND purpose = $2 AND is_used = FALSE AND is_expired = FALSE
        ORDER BY created_at DESC`, uid, string(purpose))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OTP
	for rows.Next() {
		var (
			otp          OTP
			rowID, owner uuid.UUID
			p            string
		)
		if err := rows.Scan(&rowID, &owner, &otp.Phone, &otp.CodeHash, &p, &otp.Reference, &otp.ExpiresAt,
			&otp.Attempts, &otp.MaxAttempts, &otp.IsUsed, &otp.IsExpired, &otp.CreatedAt); err != nil {
			return nil, err
		}
		otp.ID = rowID.String()
		otp.UserID = owner.String()
		otp.Purpose = Purpose(p)
		out = append(out, otp)
	}
	return out, rows.Err()
}

// Update writes the mutable counters and flags.
func (r *PostgresOTPRepository) Update(ctx context.Context, otp OTP) error {
	id, err := uuid.Parse(otp.ID)
	if err != nil {
		return err
	}
	var usedAt *time.Time
	if !otp.UsedAt.IsZero() {
		t := otp.UsedAt.UTC()
		usedAt = &t
	}
	cmd, err := r.db.Exec(ctx, `UPDATE otps SET attempts = $2, is_used = $3, is_expired = $4, used_at = $5 WHERE id = $1`,
		id, otp.Attempts, otp.IsUsed, otp.IsExpired, usedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errOTPNotFound
	}
	return nil
}

// ExpireOpen implements OTPRepository.
func (r *PostgresOTPRepository) ExpireOpen(ctx context.Context, userID string, purpose Purpose) (int64, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, fmt.Errorf("parse user id %q: %w", userID, err)
	}
	cmd, err := r.db.Exec(ctx, `UPDATE otps SET is_expired = TRUE
        WHERE user_id = $1 AND purpose = $2 AND is_used = FALSE AND is_expired = FALSE`, uid, string(purpose))
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

type memoryOTPRepository struct {
	mu   sync.Mutex
	otps map[string]OTP
}

// NewMemoryOTPRepository builds an in-memory OTP store.
func NewMemoryOTPRepository() OTPRepository {
	return &memoryOTPRepository{otps: make(map[string]OTP)}
}

func (r *memoryOTPRepository) Create(_ context.Context, otp OTP) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otps[otp.ID] = otp
	return nil
}

func (r *memoryOTPRepository) ListOpen(_ context.Context, userID string, purpose Purpose) ([]OTP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OTP
	for _, otp := range r.otps {
		if otp.UserID == userID && otp.Purpose == purpose && otp.Open() {
			out = append(out, otp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryOTPRepository) Update(_ context.Context, otp OTP) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.otps[otp.ID]; !ok {
		return errOTPNotFound
	}
	r.otps[otp.ID] = otp
	return nil
}

func (r *memoryOTPRepository) ExpireOpen(_ context.Context, userID string, purpose Purpose) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, otp := range r.otps {
		if otp.UserID == userID && otp.Purpose == purpose && otp.Open() {
			otp.IsExpired = true
			r.otps[id] = otp
			n++
		}
	}
	return n, nil
}
