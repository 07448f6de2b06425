package session

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
}

// NewMemoryRepository builds an in-memory session store.
func NewMemoryRepository() Repository {
	return &memoryRepository{sessions: make(map[string]Session)}
}

func (r *memoryRepository) Create(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.sessions {
		if existing.UserID == s.UserID && existing.IsActive {
			existing.IsActive = false
			existing.InvalidatedReason = "new_session"
			r.sessions[id] = existing
		}
	}
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepository) LatestActive(_ context.Context, userID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.sessions[r.order[i]]
		if s.UserID == userID && s.IsActive {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (r *memoryRepository) Update(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *memoryRepository) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = at
	r.sessions[id] = s
	return nil
}

func (r *memoryRepository) Deactivate(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	s.IsActive = false
	s.InvalidatedReason = reason
	r.sessions[id] = s
	return nil
}

func (r *memoryRepository) DeactivateUser(_ context.Context, userID, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			s.InvalidatedReason = reason
			r.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) DeactivateStale(_ context.Context, now, idleBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if !s.IsActive {
			continue
		}
		if !now.Before(s.ExpiresAt) || s.LastActivity.Before(idleBefore) {
			s.IsActive = false
			s.InvalidatedReason = "expired"
			r.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) Stats(_ context.Context, now time.Time) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st Stats
	for _, s := range r.sessions {
		if s.IsActive && now.Before(s.ExpiresAt) {
			st.Active++
			if s.IsAuthenticated {
				st.Authenticated++
			}
		}
	}
	return st, nil
}
