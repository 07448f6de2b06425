package conversation

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryRepository builds an in-memory state store.
func NewMemoryRepository() Repository {
	return &memoryRepository{states: make(map[string]State)}
}

func (r *memoryRepository) Get(_ context.Context, userID string) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[userID]
	if !ok {
		return State{}, ErrNotFound
	}
	return state.Clone(), nil
}

func (r *memoryRepository) Create(_ context.Context, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.states[state.UserID]; exists {
		return nil
	}
	r.states[state.UserID] = state.Clone()
	return nil
}

func (r *memoryRepository) Save(_ context.Context, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[state.UserID]; !ok {
		return ErrNotFound
	}
	state.UpdatedAt = time.Now().UTC()
	r.states[state.UserID] = state.Clone()
	return nil
}
