package auth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/chatwallet/internal/audit"
	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/events"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/identity"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/notification"
	"github.com/congo-pay/chatwallet/internal/session"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
	fail error
}

func (n *captureNotifier) Send(_ context.Context, m notification.Message) error {
	if n.fail != nil {
		return n.fail
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

var codePattern = regexp.MustCompile(`code is (\d+)`)

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatalf("no notification sent")
	}
	m := codePattern.FindStringSubmatch(n.sent[len(n.sent)-1].Body)
	if m == nil {
		t.Fatalf("no code in %q", n.sent[len(n.sent)-1].Body)
	}
	return m[1]
}

type fixture struct {
	svc      *Service
	users    *identity.Service
	notifier *captureNotifier
	audit    *audit.MemoryRecorder
	events   *events.Recorder
	clock    *time.Time
	user     identity.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()
	users := identity.NewService(identity.NewMemoryRepository())
	sessions := session.NewManager(session.NewMemoryRepository(), config.Defaults().Session, logger)

	user, err := users.Resolve(ctx, "264811234567", "John")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	user, err = users.CompleteRegistration(ctx, user, identity.Profile{FirstName: "John", LastName: "Doe", WalletAccountID: "MARIS001"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	f := &fixture{users: users, notifier: &captureNotifier{}, audit: &audit.MemoryRecorder{}, events: &events.Recorder{}, user: user}
	f.svc = NewService(config.Defaults().Auth, Deps{
		Users:    users,
		Sessions: sessions,
		OTPs:     NewMemoryOTPRepository(),
		Gateway:  gateway.NewDemoStub(),
		Notifier: f.notifier,
		Audit:    f.audit,
		Events:   f.events,
		Logger:   logger,
	})
	f.svc.hashCost = bcrypt.MinCost
	clock := time.Now().UTC()
	f.clock = &clock
	f.svc.now = func() time.Time { return *f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func TestVerifyPINRejectsBadFormatWithoutCountingAttempt(t *testing.T) {
	f := newFixture(t)
	state := conversation.State{AwaitingInput: conversation.AwaitingPIN}

	for _, pin := range []string{"1234", "123456", "12a45", ""} {
		out, err := f.svc.VerifyPIN(context.Background(), &f.user, pin, &state)
		if err != nil {
			t.Fatalf("verify %q: %v", pin, err)
		}
		if out.Status != PINInvalidFormat {
			t.Fatalf("pin %q: expected invalid format, got %v", pin, out.Status)
		}
	}
	if f.user.PINAttempts != 0 {
		t.Fatalf("format errors must not consume attempts, got %d", f.user.PINAttempts)
	}
}

func TestVerifyPINSuccessAuthenticatesSession(t *testing.T) {
	f := newFixture(t)
	state := conversation.State{AwaitingInput: conversation.AwaitingPIN}

	out, err := f.svc.VerifyPIN(context.Background(), &f.user, "12345", &state)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Status != PINVerified {
		t.Fatalf("expected verified, got %v", out.Status)
	}
	if !out.Session.IsAuthenticated || out.Session.AuthLevel != session.LevelPINVerified {
		t.Fatalf("session not elevated: %+v", out.Session)
	}
	if state.AwaitingInput != conversation.AwaitingNone {
		t.Fatalf("awaiting input not cleared")
	}
	if f.audit.Count("PIN_VERIFICATION_SUCCESS") != 1 {
		t.Fatalf("expected success audit entry")
	}
}

func TestVerifyPINLocksAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	state := conversation.State{}

	out, _ := f.svc.VerifyPIN(ctx, &f.user, "00000", &state)
	if out.Status != PINIncorrect || out.AttemptsRemaining != 2 {
		t.Fatalf("expected 2 remaining, got %+v", out)
	}
	out, _ = f.svc.VerifyPIN(ctx, &f.user, "00000", &state)
	if out.AttemptsRemaining != 1 {
		t.Fatalf("expected 1 remaining, got %+v", out)
	}
	out, _ = f.svc.VerifyPIN(ctx, &f.user, "00000", &state)
	if out.Status != PINLockedOut {
		t.Fatalf("expected lockout, got %+v", out)
	}

	stored, err := f.users.Resolve(ctx, f.user.Phone, "")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !stored.IsBlocked || stored.BlockedUntil.IsZero() {
		t.Fatalf("lockout not persisted: %+v", stored)
	}

	// Correct PIN is still rejected while blocked.
	out, _ = f.svc.VerifyPIN(ctx, &f.user, "12345", &state)
	if out.Status != PINLocked {
		t.Fatalf("expected locked, got %+v", out)
	}
	if got := f.events.Subjects(); len(got) != 1 || got[0] != events.UserLocked {
		t.Fatalf("expected one lock event, got %v", got)
	}
}

func TestVerifyPINClearsExpiredBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	state := conversation.State{}

	for i := 0; i < 3; i++ {
		_, _ = f.svc.VerifyPIN(ctx, &f.user, "99999", &state)
	}
	f.advance(31 * time.Minute)

	out, err := f.svc.VerifyPIN(ctx, &f.user, "12345", &state)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Status != PINVerified {
		t.Fatalf("expected verified after block expiry, got %+v", out)
	}
	if f.user.IsBlocked || f.user.PINAttempts != 0 {
		t.Fatalf("block not cleared: %+v", f.user)
	}
}

func TestGenerateOTPSupersedesOpenChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GenerateOTP(ctx, f.user, PurposeRegistration); err != nil {
		t.Fatalf("first otp: %v", err)
	}
	first := f.notifier.lastCode(t)
	f.advance(time.Second)
	ref, err := f.svc.GenerateOTP(ctx, f.user, PurposeRegistration)
	if err != nil {
		t.Fatalf("second otp: %v", err)
	}
	second := f.notifier.lastCode(t)

	open, _ := f.svc.OTPs.ListOpen(ctx, f.user.ID, PurposeRegistration)
	if len(open) != 1 || open[0].Reference != ref {
		t.Fatalf("expected a single live challenge, got %d", len(open))
	}
	if first != second {
		out, _ := f.svc.VerifyOTP(ctx, f.user, first, PurposeRegistration)
		if out.Status == OTPVerified {
			t.Fatalf("superseded code accepted")
		}
	}
}

func TestVerifyOTPSuccessConsumesCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, err := f.svc.GenerateOTP(ctx, f.user, PurposeTransaction)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	code := f.notifier.lastCode(t)
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}

	out, err := f.svc.VerifyOTP(ctx, f.user, code, PurposeTransaction)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Status != OTPVerified || out.Reference != ref {
		t.Fatalf("unexpected outcome %+v", out)
	}
	again, _ := f.svc.VerifyOTP(ctx, f.user, code, PurposeTransaction)
	if again.Status == OTPVerified {
		t.Fatalf("code accepted twice")
	}
}

func TestVerifyOTPExpiredByTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GenerateOTP(ctx, f.user, PurposeTransaction); err != nil {
		t.Fatalf("generate: %v", err)
	}
	code := f.notifier.lastCode(t)
	f.advance(6 * time.Minute)

	out, _ := f.svc.VerifyOTP(ctx, f.user, code, PurposeTransaction)
	if out.Status != OTPExpired {
		t.Fatalf("expected expired, got %+v", out)
	}
}

func TestVerifyOTPAttemptExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GenerateOTP(ctx, f.user, PurposeTransaction); err != nil {
		t.Fatalf("generate: %v", err)
	}
	code := f.notifier.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 2; i++ {
		out, _ := f.svc.VerifyOTP(ctx, f.user, wrong, PurposeTransaction)
		if out.Status != OTPInvalid {
			t.Fatalf("attempt %d: expected invalid, got %+v", i+1, out)
		}
	}
	out, _ := f.svc.VerifyOTP(ctx, f.user, wrong, PurposeTransaction)
	if out.Status != OTPExpired {
		t.Fatalf("expected expired on the last attempt, got %+v", out)
	}
	out, _ = f.svc.VerifyOTP(ctx, f.user, code, PurposeTransaction)
	if out.Status == OTPVerified {
		t.Fatalf("exhausted challenge accepted the right code")
	}
}

func TestGenerateOTPDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = errors.New("sms down")

	_, err := f.svc.GenerateOTP(context.Background(), f.user, PurposeRegistration)
	if !errors.Is(err, ErrOTPDelivery) {
		t.Fatalf("expected ErrOTPDelivery, got %v", err)
	}
}
