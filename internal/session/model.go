package session

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no session matches.
var ErrNotFound = errors.New("session not found")

// AuthLevel is the proof of identity reached within a session.
type AuthLevel string

const (
	LevelNone        AuthLevel = "NONE"
	LevelOTPVerified AuthLevel = "OTP_VERIFIED"
	LevelPINVerified AuthLevel = "PIN_VERIFIED"
	LevelFull        AuthLevel = "FULL"
)

func (l AuthLevel) rank() int {
	switch l {
	case LevelOTPVerified:
		return 1
	case LevelPINVerified:
		return 2
	case LevelFull:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether l is the same as or above other.
func (l AuthLevel) AtLeast(other AuthLevel) bool {
	return l.rank() >= other.rank()
}

// Session is an authenticated interaction window.
type Session struct {
	ID                string
	UserID            string
	Token             string
	IsAuthenticated   bool
	AuthLevel         AuthLevel
	ExpiresAt         time.Time
	LastActivity      time.Time
	IsActive          bool
	InvalidatedReason string
	CreatedAt         time.Time
}

// Usable reports whether the session is active, unexpired and not idle past idle.
func (s Session) Usable(now time.Time, idle time.Duration) bool {
	if !s.IsActive {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return now.Sub(s.LastActivity) <= idle
}

// Stats summarizes live sessions.
type Stats struct {
	Active        int64 `json:"active"`
	Authenticated int64 `json:"authenticated"`
}
