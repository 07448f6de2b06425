package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Category groups audit entries.
type Category string

const (
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryTransaction    Category = "TRANSACTION"
	CategoryAccount        Category = "ACCOUNT"
	CategorySecurity       Category = "SECURITY"
)

// Entry is one audit record.
type Entry struct {
	UserID    string            `json:"user_id,omitempty"`
	Action    string            `json:"action"`
	Category  Category          `json:"category"`
	Success   bool              `json:"success"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Recorder receives audit entries. Recording never fails the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// LogRecorder writes entries to the structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder builds a logging recorder.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.logger == nil {
		return
	}
	attrs := []any{
		slog.String("action", e.Action),
		slog.String("category", string(e.Category)),
		slog.Bool("success", e.Success),
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	for k, v := range e.Details {
		attrs = append(attrs, slog.String(k, v))
	}
	r.logger.InfoContext(ctx, "audit", attrs...)
}

// PostgresRecorder stores entries in the audit_logs table.
type PostgresRecorder struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRecorder builds a Postgres-backed recorder.
func NewPostgresRecorder(db *pgxpool.Pool, logger *slog.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, logger: logger}
}

// Record implements Recorder. Storage errors are logged.
func (r *PostgresRecorder) Record(ctx context.Context, e Entry) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		r.logger.Warn("encode audit details", "action", e.Action, "error", err)
		return
	}
	var userID *uuid.UUID
	if id, err := uuid.Parse(e.UserID); err == nil {
		userID = &id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err = r.db.Exec(ctx, `INSERT INTO audit_logs (id, user_id, action, category, success, details, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), userID, e.Action, string(e.Category), e.Success, details, e.CreatedAt.UTC())
	if err != nil {
		r.logger.Warn("persist audit entry", "action", e.Action, "error", err)
	}
}

// MemoryRecorder keeps entries in memory. Useful for tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Record implements Recorder.
func (r *MemoryRecorder) Record(_ context.Context, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the recorded entries.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many entries have the given action.
func (r *MemoryRecorder) Count(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
