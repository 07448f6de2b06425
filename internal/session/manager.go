package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/chatwallet/internal/config"
)

// Manager owns the single-active-session-per-user lifecycle.
type Manager struct {
	repo   Repository
	cfg    config.SessionConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewManager builds a session manager.
func NewManager(repo Repository, cfg config.SessionConfig, logger *slog.Logger) *Manager {
	return &Manager{repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

// Create invalidates the user's active sessions and opens a new unauthenticated one.
func (m *Manager) Create(ctx context.Context, userID string) (Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Token:        uuid.NewString(),
		AuthLevel:    LevelNone,
		ExpiresAt:    now.Add(m.cfg.TTL),
		LastActivity: now,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Active returns the user's usable session. An expired or idle session is
// invalidated on the way out and reported as absent.
func (m *Manager) Active(ctx context.Context, userID string) (Session, bool, error) {
	s, err := m.repo.LatestActive(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if s.Usable(m.now(), m.cfg.IdleTimeout) {
		return s, true, nil
	}
	if err := m.repo.Deactivate(ctx, s.ID, "expired"); err != nil {
		return Session{}, false, fmt.Errorf("expire session: %w", err)
	}
	return Session{}, false, nil
}

// Ensure returns the usable session for userID or creates one.
func (m *Manager) Ensure(ctx context.Context, userID string) (Session, error) {
	s, ok, err := m.Active(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if ok {
		return s, nil
	}
	return m.Create(ctx, userID)
}

// SetAuthenticated marks the session authenticated at level. The level never
// goes down within a session.
func (m *Manager) SetAuthenticated(ctx context.Context, sessionID string, level AuthLevel) (Session, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if !s.IsActive {
		return Session{}, fmt.Errorf("authenticate session %s: %w", sessionID, ErrNotFound)
	}
	s.IsAuthenticated = true
	if !s.AuthLevel.AtLeast(level) {
		s.AuthLevel = level
	}
	s.LastActivity = m.now().UTC()
	if err := m.repo.Update(ctx, s); err != nil {
		return Session{}, fmt.Errorf("update session: %w", err)
	}
	return s, nil
}

// Touch refreshes last activity.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	if err := m.repo.Touch(ctx, sessionID, m.now().UTC()); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Extend pushes the absolute expiry out by d.
func (m *Manager) Extend(ctx context.Context, sessionID string, d time.Duration) (Session, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	s.ExpiresAt = s.ExpiresAt.Add(d)
	s.LastActivity = m.now().UTC()
	if err := m.repo.Update(ctx, s); err != nil {
		return Session{}, fmt.Errorf("extend session: %w", err)
	}
	return s, nil
}

// Invalidate deactivates one session.
func (m *Manager) Invalidate(ctx context.Context, sessionID, reason string) error {
	return m.repo.Deactivate(ctx, sessionID, reason)
}

// InvalidateUser deactivates every active session of the user.
func (m *Manager) InvalidateUser(ctx context.Context, userID, reason string) error {
	n, err := m.repo.DeactivateUser(ctx, userID, reason)
	if err != nil {
		return fmt.Errorf("invalidate sessions: %w", err)
	}
	if n > 0 {
		m.logger.Info("sessions invalidated", "user_id", userID, "count", n, "reason", reason)
	}
	return nil
}

// Sweep marks stale sessions inactive. Correctness does not depend on it.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	now := m.now().UTC()
	return m.repo.DeactivateStale(ctx, now, now.Add(-m.cfg.IdleTimeout))
}

// Run sweeps on the configured interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Debug("session sweep", "expired", n)
			}
		}
	}
}

// Stats counts live sessions.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.repo.Stats(ctx, m.now().UTC())
}
