package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Resolve loads the state for userID, creating an idle one if none exists.
func Resolve(ctx context.Context, repo Repository, userID string) (State, error) {
	state, err := repo.Get(ctx, userID)
	if err == nil {
		if state.Data == nil {
			state.Data = FlowData{}
		}
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return State{}, fmt.Errorf("load conversation state: %w", err)
	}

	state = State{
		ID:        uuid.NewString(),
		UserID:    userID,
		Data:      FlowData{},
		UpdatedAt: time.Now().UTC(),
	}
	if err := repo.Create(ctx, state); err != nil {
		return State{}, fmt.Errorf("create conversation state: %w", err)
	}
	// A concurrent creator may have won; the stored row is authoritative.
	return repo.Get(ctx, userID)
}
