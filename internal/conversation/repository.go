package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists conversation state, one row per user.
type Repository interface {
	Get(ctx context.Context, userID string) (State, error)
	Create(ctx context.Context, state State) error
	Save(ctx context.Context, state State) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed conversation state repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get loads the state for userID.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (State, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return State{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, user_id, COALESCE(current_flow, ''), COALESCE(current_step, ''), flow_data,
        COALESCE(pending_action, ''), COALESCE(awaiting_input, ''), error_count, COALESCE(last_message_id, ''), recent_message_ids, updated_at
        FROM conversation_states WHERE user_id = $1`, uid)

	var (
		id, owner uuid.UUID
		rawData   []byte
		state     State
	)
	if err := row.Scan(&id, &owner, &state.Flow, &state.Step, &rawData, &state.PendingAction,
		&state.AwaitingInput, &state.ErrorCount, &state.LastMessageID, &state.RecentMessageIDs, &state.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}
	state.ID = id.String()
	state.UserID = owner.String()
	state.UpdatedAt = state.UpdatedAt.UTC()
	state.Data = FlowData{}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &state.Data); err != nil {
			return State{}, fmt.Errorf("decode flow data: %w", err)
		}
	}
	return state, nil
}

// Create inserts the initial state row.
func (r *PostgresRepository) Create(ctx context.Context, state State) error {
	id, err := uuid.Parse(state.ID)
	if err != nil {
		return err
	}
	uid, err := uuid.Parse(state.UserID)
	if err != nil {
		return err
	}
	data, err := encodeData(state.Data)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO conversation_states (id, user_id, current_flow, current_step, flow_data,
        pending_action, awaiting_input, error_count, last_message_id, recent_message_ids, updated_at)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11)
        ON CONFLICT (user_id) DO NOTHING`,
		id, uid, state.Flow, state.Step, data, state.PendingAction, state.AwaitingInput, state.ErrorCount,
		state.LastMessageID, recentIDs(state.RecentMessageIDs), state.UpdatedAt.UTC())
	return err
}

// Save overwrites the state row for state.UserID.
func (r *PostgresRepository) Save(ctx context.Context, state State) error {
	uid, err := uuid.Parse(state.UserID)
	if err != nil {
		return err
	}
	data, err := encodeData(state.Data)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE conversation_states SET current_flow = NULLIF($2, ''), current_step = NULLIF($3, ''),
        flow_data = $4, pending_action = NULLIF($5, ''), awaiting_input = NULLIF($6, ''), error_count = $7,
        last_message_id = NULLIF($8, ''), recent_message_ids = $9, updated_at = $10 WHERE user_id = $1`,
		uid, state.Flow, state.Step, data, state.PendingAction, state.AwaitingInput, state.ErrorCount,
		state.LastMessageID, recentIDs(state.RecentMessageIDs), time.Now().UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// recentIDs keeps a nil window from being written as NULL.
func recentIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func encodeData(d FlowData) ([]byte, error) {
	if d == nil {
		d = FlowData{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode flow data: %w", err)
	}
	return raw, nil
}
