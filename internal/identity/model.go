package identity

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup key.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicatePhone signals a second user for an existing phone identifier.
	ErrDuplicatePhone = errors.New("user already exists for phone")
)

// User is the identity anchor for a chat sender. The phone identifier is the
// stable key; the wallet account id stays empty until registration completes.
type User struct {
	ID              string
	Phone           string
	WalletAccountID string
	IsRegistered    bool
	IsVerified      bool
	IsBlocked       bool
	BlockedUntil    time.Time
	BlockedReason   string
	PINAttempts     int
	FirstName       string
	LastName        string
	DisplayName     string
	LastActivity    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Name returns the best available display name.
func (u User) Name() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.DisplayName
}

// FullName joins first and last names.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Locked reports whether the block is still in force at now.
func (u User) Locked(now time.Time) bool {
	if !u.IsBlocked {
		return false
	}
	return u.BlockedUntil.IsZero() || now.Before(u.BlockedUntil)
}

// Block sets the block state until the given time.
func (u *User) Block(until time.Time, reason string) {
	u.IsBlocked = true
	u.BlockedUntil = until
	u.BlockedReason = reason
}

// Unblock clears the block and the PIN failure counter.
func (u *User) Unblock() {
	u.IsBlocked = false
	u.BlockedUntil = time.Time{}
	u.BlockedReason = ""
	u.PINAttempts = 0
}
