package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service manages the user lifecycle seen by the conversation engine.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Resolve returns the user for phone, creating an unregistered one on first
// contact, and stamps last activity.
func (s *Service) Resolve(ctx context.Context, phone, contactName string) (User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return User{}, fmt.Errorf("resolve user: empty phone")
	}
	now := s.now().UTC()

	user, err := s.repo.FindByPhone(ctx, phone)
	switch {
	case err == nil:
		user.LastActivity = now
		user.UpdatedAt = now
		if user.DisplayName == "" && contactName != "" {
			user.DisplayName = contactName
		}
		if err := s.repo.Update(ctx, user); err != nil {
			return User{}, fmt.Errorf("stamp activity: %w", err)
		}
		return user, nil
	case !errors.Is(err, ErrNotFound):
		return User{}, fmt.Errorf("find user: %w", err)
	}

	user = User{
		ID:           uuid.NewString(),
		Phone:        phone,
		DisplayName:  contactName,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicatePhone) {
			return s.repo.FindByPhone(ctx, phone)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Profile is the data captured by the registration flow.
type Profile struct {
	FirstName       string
	LastName        string
	WalletAccountID string
}

// CompleteRegistration marks the user registered and verified.
func (s *Service) CompleteRegistration(ctx context.Context, user User, p Profile) (User, error) {
	if p.WalletAccountID == "" {
		return User{}, fmt.Errorf("complete registration: empty wallet account id")
	}
	user.FirstName = p.FirstName
	user.LastName = p.LastName
	user.WalletAccountID = p.WalletAccountID
	user.IsRegistered = true
	user.IsVerified = true
	user.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, fmt.Errorf("complete registration: %w", err)
	}
	return user, nil
}

// Save persists an already-mutated user.
func (s *Service) Save(ctx context.Context, user User) error {
	user.UpdatedAt = s.now().UTC()
	return s.repo.Update(ctx, user)
}
