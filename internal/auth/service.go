package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/chatwallet/internal/audit"
	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/events"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/identity"
	"github.com/congo-pay/chatwallet/internal/metrics"
	"github.com/congo-pay/chatwallet/internal/notification"
	"github.com/congo-pay/chatwallet/internal/session"
)

// ErrOTPDelivery is returned when a generated code could not be sent.
var ErrOTPDelivery = errors.New("otp delivery failed")

// PINStatus is the result class of a PIN check.
type PINStatus int

const (
	PINVerified PINStatus = iota
	PINInvalidFormat
	PINIncorrect
	PINLockedOut
	PINLocked
)

// PINOutcome is returned by VerifyPIN.
type PINOutcome struct {
	Status            PINStatus
	AttemptsRemaining int
	LockedUntil       time.Time
	Session           session.Session
}

// OTPStatus is the result class of an OTP check.
type OTPStatus int

const (
	OTPVerified OTPStatus = iota
	OTPInvalid
	OTPExpired
)

// OTPOutcome is returned by VerifyOTP.
type OTPOutcome struct {
	Status    OTPStatus
	Reference string
}

// Deps are the collaborators of the auth service.
type Deps struct {
	Users    *identity.Service
	Sessions *session.Manager
	OTPs     OTPRepository
	Gateway  gateway.Gateway
	Notifier notification.Notifier
	Audit    audit.Recorder
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Service verifies PINs and issues one-time codes.
type Service struct {
	cfg config.AuthConfig
	Deps
	hashCost int
	now      func() time.Time
}

// NewService builds the auth service.
func NewService(cfg config.AuthConfig, deps Deps) *Service {
	if deps.Audit == nil {
		deps.Audit = audit.NewLogRecorder(deps.Logger)
	}
	if deps.Events == nil {
		deps.Events = events.NewLogPublisher(deps.Logger)
	}
	return &Service{cfg: cfg, Deps: deps, hashCost: bcrypt.DefaultCost, now: time.Now}
}

// ValidPINFormat reports whether pin has the configured digit length.
func (s *Service) ValidPINFormat(pin string) bool {
	if len(pin) != s.cfg.PINLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// VerifyPIN checks pin against the wallet backend and applies the lockout
// policy. user and state are updated in place; user is persisted here, state
// is left for the caller to save.
func (s *Service) VerifyPIN(ctx context.Context, user *identity.User, pin string, state *conversation.State) (PINOutcome, error) {
	if !s.ValidPINFormat(pin) {
		return PINOutcome{Status: PINInvalidFormat}, nil
	}
	now := s.now().UTC()

	if user.IsBlocked {
		if user.Locked(now) {
			return PINOutcome{Status: PINLocked, LockedUntil: user.BlockedUntil}, nil
		}
		user.Unblock()
		if err := s.Users.Save(ctx, *user); err != nil {
			return PINOutcome{}, fmt.Errorf("clear expired block: %w", err)
		}
	}

	ok, err := s.Gateway.VerifyPIN(ctx, user.WalletAccountID, pin)
	if err != nil {
		return PINOutcome{}, fmt.Errorf("verify pin: %w", err)
	}

	if !ok {
		user.PINAttempts++
		s.Metrics.PINFailure()
		s.Audit.Record(ctx, audit.Entry{
			UserID:   user.ID,
			Action:   "PIN_VERIFICATION_FAILED",
			Category: audit.CategoryAuthentication,
			Details:  map[string]string{"attempt": strconv.Itoa(user.PINAttempts)},
		})
		if user.PINAttempts >= s.cfg.MaxPINAttempts {
			until := now.Add(s.cfg.PINLockout)
			user.Block(until, "Too many failed PIN attempts")
			if err := s.Users.Save(ctx, *user); err != nil {
				return PINOutcome{}, fmt.Errorf("block user: %w", err)
			}
			s.lockedOut(ctx, *user)
			return PINOutcome{Status: PINLockedOut, LockedUntil: until}, nil
		}
		if err := s.Users.Save(ctx, *user); err != nil {
			return PINOutcome{}, fmt.Errorf("record pin failure: %w", err)
		}
		return PINOutcome{Status: PINIncorrect, AttemptsRemaining: s.cfg.MaxPINAttempts - user.PINAttempts}, nil
	}

	user.PINAttempts = 0
	if err := s.Users.Save(ctx, *user); err != nil {
		return PINOutcome{}, fmt.Errorf("reset pin attempts: %w", err)
	}
	sess, err := s.Sessions.Ensure(ctx, user.ID)
	if err != nil {
		return PINOutcome{}, err
	}
	sess, err = s.Sessions.SetAuthenticated(ctx, sess.ID, session.LevelPINVerified)
	if err != nil {
		return PINOutcome{}, err
	}
	state.AwaitingInput = conversation.AwaitingNone
	s.Audit.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   "PIN_VERIFICATION_SUCCESS",
		Category: audit.CategoryAuthentication,
		Success:  true,
	})
	return PINOutcome{Status: PINVerified, Session: sess}, nil
}

func (s *Service) lockedOut(ctx context.Context, user identity.User) {
	s.Metrics.Lockout()
	s.Logger.WarnContext(ctx, "user blocked after failed pin attempts", "user_id", user.ID, "attempts", user.PINAttempts)
	s.Audit.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   "ACCOUNT_LOCKED",
		Category: audit.CategorySecurity,
		Success:  true,
		Details:  map[string]string{"until": user.BlockedUntil.Format(time.RFC3339)},
	})
	if err := s.Sessions.InvalidateUser(ctx, user.ID, "locked"); err != nil {
		s.Logger.WarnContext(ctx, "invalidate sessions on lockout", "error", err)
	}
	err := s.Events.Publish(ctx, events.UserLocked, events.UserEvent{
		UserID:     user.ID,
		Phone:      user.Phone,
		Reason:     user.BlockedReason,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.Logger.WarnContext(ctx, "publish lockout event", "error", err)
	}
}

// GenerateOTP supersedes any open challenge of purpose, issues a new code and
// sends it to the user's phone. It returns the challenge reference.
func (s *Service) GenerateOTP(ctx context.Context, user identity.User, purpose Purpose) (string, error) {
	if _, err := s.OTPs.ExpireOpen(ctx, user.ID, purpose); err != nil {
		return "", fmt.Errorf("supersede otps: %w", err)
	}
	code, err := numericCode(s.cfg.OTPLength)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	now := s.now().UTC()
	otp := OTP{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Phone:       user.Phone,
		CodeHash:    string(hash),
		Purpose:     purpose,
		Reference:   "OTP" + uuid.NewString()[:8],
		ExpiresAt:   now.Add(s.cfg.OTPTTL),
		MaxAttempts: s.cfg.OTPMaxAttempts,
		CreatedAt:   now,
	}
	if err := s.OTPs.Create(ctx, otp); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	s.Metrics.OTPIssued(string(purpose))

	body := fmt.Sprintf("Your wallet %s code is %s. Valid for %d minutes. Do not share this code.",
		purposeLabel(purpose), code, int(s.cfg.OTPTTL.Minutes()))
	if err := s.Notifier.Send(ctx, notification.Message{Kind: notification.KindOTP, Destination: user.Phone, Body: body}); err != nil {
		s.Logger.ErrorContext(ctx, "otp delivery failed", "user_id", user.ID, "purpose", purpose, "error", err)
		return "", fmt.Errorf("%w: %v", ErrOTPDelivery, err)
	}
	return otp.Reference, nil
}

// VerifyOTP checks code against the user's open challenges of purpose, most
// recent first. A miss counts against the newest live challenge only.
func (s *Service) VerifyOTP(ctx context.Context, user identity.User, code string, purpose Purpose) (OTPOutcome, error) {
	open, err := s.OTPs.ListOpen(ctx, user.ID, purpose)
	if err != nil {
		return OTPOutcome{}, fmt.Errorf("load otps: %w", err)
	}
	now := s.now().UTC()

	for _, otp := range open {
		if bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)) != nil {
			continue
		}
		if !now.Before(otp.ExpiresAt) {
			otp.IsExpired = true
			if err := s.OTPs.Update(ctx, otp); err != nil {
				return OTPOutcome{}, fmt.Errorf("expire otp: %w", err)
			}
			return OTPOutcome{Status: OTPExpired}, nil
		}
		otp.IsUsed = true
		otp.UsedAt = now
		if err := s.OTPs.Update(ctx, otp); err != nil {
			return OTPOutcome{}, fmt.Errorf("consume otp: %w", err)
		}
		s.Audit.Record(ctx, audit.Entry{
			UserID:   user.ID,
			Action:   "OTP_VERIFICATION_SUCCESS",
			Category: audit.CategoryAuthentication,
			Success:  true,
			Details:  map[string]string{"reference": otp.Reference, "purpose": string(purpose)},
		})
		return OTPOutcome{Status: OTPVerified, Reference: otp.Reference}, nil
	}

	for _, otp := range open {
		if !otp.Live(now) {
			continue
		}
		otp.Attempts++
		if otp.Attempts >= otp.MaxAttempts {
			otp.IsExpired = true
		}
		if err := s.OTPs.Update(ctx, otp); err != nil {
			return OTPOutcome{}, fmt.Errorf("count otp attempt: %w", err)
		}
		s.Audit.Record(ctx, audit.Entry{
			UserID:   user.ID,
			Action:   "OTP_VERIFICATION_FAILED",
			Category: audit.CategoryAuthentication,
			Details:  map[string]string{"reference": otp.Reference, "purpose": string(purpose)},
		})
		if otp.IsExpired {
			return OTPOutcome{Status: OTPExpired}, nil
		}
		return OTPOutcome{Status: OTPInvalid}, nil
	}
	// Nothing left to answer.
	return OTPOutcome{Status: OTPExpired}, nil
}

func numericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

func purposeLabel(p Purpose) string {
	switch p {
	case PurposeRegistration:
		return "registration"
	case PurposeTransaction:
		return "transaction"
	case PurposePINReset:
		return "PIN reset"
	default:
		return "verification"
	}
}
