package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/congo-pay/chatwallet/internal/audit"
	"github.com/congo-pay/chatwallet/internal/auth"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/events"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/identity"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/message"
)

const (
	nameMin = 2
	nameMax = 50
	idMin   = 6
	idMax   = 20
	newPIN  = 5
)

var weakPINs = map[string]bool{
	"12345": true, "54321": true,
	"00000": true, "11111": true, "22222": true, "33333": true, "44444": true, "55555": true,
}

type registrationFlow struct {
	*base
}

func (f *registrationFlow) ID() string { return Registration }

func (f *registrationFlow) Start(_ context.Context, t *Turn) (message.Response, error) {
	t.State.Step = stepFirstName
	t.State.AwaitingInput = conversation.AwaitingText
	return message.Text("*Create Your Wallet*\n\nLet's get you set up. It only takes a minute.\n\nPlease enter your *first name*:"), nil
}

func (f *registrationFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	switch t.State.Step {
	case stepFirstName:
		return f.firstName(t)
	case stepLastName:
		return f.lastName(t)
	case stepIDNumber:
		return f.idNumber(t)
	case stepCreatePIN:
		return f.createPIN(t)
	case stepConfirmPIN:
		return f.confirmPIN(ctx, t)
	case stepVerifyOTP:
		return f.verifyOTP(ctx, t)
	default:
		return f.Start(ctx, t)
	}
}

func validName(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= nameMin && n <= nameMax
}

func (f *registrationFlow) firstName(t *Turn) (message.Response, error) {
	name := strings.TrimSpace(t.Event.Input())
	if !validName(name) {
		return message.Text(fmt.Sprintf("Please enter a valid first name (%d-%d characters):", nameMin, nameMax)), nil
	}
	if err := t.State.Data.Put("firstName", name); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepLastName
	return message.Text(fmt.Sprintf("Thanks %s!\n\nNow enter your *last name*:", name)), nil
}

func (f *registrationFlow) lastName(t *Turn) (message.Response, error) {
	name := strings.TrimSpace(t.Event.Input())
	if !validName(name) {
		return message.Text(fmt.Sprintf("Please enter a valid last name (%d-%d characters):", nameMin, nameMax)), nil
	}
	if err := t.State.Data.Put("lastName", name); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepIDNumber
	return message.Text("Enter your *national ID or passport number*:"), nil
}

// normalizeID strips all whitespace and upper-cases the document number.
func normalizeID(s string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s))
}

func (f *registrationFlow) idNumber(t *Turn) (message.Response, error) {
	id := normalizeID(t.Event.Input())
	if n := utf8.RuneCountInString(id); n < idMin || n > idMax {
		return message.Text("Please enter a valid ID or passport number:"), nil
	}
	if err := t.State.Data.Put("idNumber", id); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepCreatePIN
	t.State.AwaitingInput = conversation.AwaitingPIN
	return message.Text(fmt.Sprintf("*Create Your PIN*\n\nChoose a %d-digit PIN to secure your wallet. Avoid easy sequences like 12345.\n\nEnter your new PIN:", newPIN)), nil
}

func pinDigits(s string) bool {
	if len(s) != newPIN {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (f *registrationFlow) createPIN(t *Turn) (message.Response, error) {
	pin := strings.TrimSpace(t.Event.Input())
	if !pinDigits(pin) {
		return message.Text(fmt.Sprintf("Your PIN must be exactly %d digits. Please enter a new PIN:", newPIN)), nil
	}
	if weakPINs[pin] {
		return message.Text("That PIN is too easy to guess. Please choose a different PIN:"), nil
	}
	sealed, err := f.Vault.Seal(pin)
	if err != nil {
		return message.Response{}, err
	}
	if err := t.State.Data.Put("pin", sealed); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepConfirmPIN
	return message.Text("Please enter your PIN again to confirm:"), nil
}

func (f *registrationFlow) confirmPIN(ctx context.Context, t *Turn) (message.Response, error) {
	pin, err := f.Vault.Open(t.State.Data.String("pin"))
	if err != nil {
		return message.Response{}, fmt.Errorf("open registration pin: %w", err)
	}
	if strings.TrimSpace(t.Event.Input()) != pin {
		delete(t.State.Data, "pin")
		t.State.Step = stepCreatePIN
		return message.Text("PINs do not match. Please create your PIN again:"), nil
	}

	if _, err := f.Auth.GenerateOTP(ctx, *t.User, auth.PurposeRegistration); err != nil {
		if errors.Is(err, auth.ErrOTPDelivery) {
			return message.Text("Failed to send verification code. Please try again."), nil
		}
		return message.Response{}, err
	}
	t.State.Step = stepVerifyOTP
	t.State.AwaitingInput = conversation.AwaitingOTP
	return message.Text(fmt.Sprintf("*Verify Your Number*\n\nWe sent a verification code to %s.\n\nEnter the code:", maskPhone(t.User.Phone))), nil
}

func (f *registrationFlow) verifyOTP(ctx context.Context, t *Turn) (message.Response, error) {
	out, err := f.Auth.VerifyOTP(ctx, *t.User, strings.TrimSpace(t.Event.Input()), auth.PurposeRegistration)
	if err != nil {
		return message.Response{}, err
	}
	switch out.Status {
	case auth.OTPExpired:
		return message.Complete("Verification code expired. Please type REGISTER to start again."), nil
	case auth.OTPInvalid:
		return message.Text("Invalid code. Please enter the correct verification code:"), nil
	}

	pin, err := f.Vault.Open(t.State.Data.String("pin"))
	if err != nil {
		return message.Response{}, fmt.Errorf("open registration pin: %w", err)
	}
	first := t.State.Data.String("firstName")
	last := t.State.Data.String("lastName")

	callCtx, cancel := f.gatewayCtx(ctx)
	reg, err := f.Gateway.Register(callCtx, gateway.Profile{
		Phone:     t.User.Phone,
		FirstName: first,
		LastName:  last,
		IDNumber:  t.State.Data.String("idNumber"),
		PIN:       pin,
	})
	cancel()
	if err != nil {
		return f.unavailable(ctx, t, "create your wallet", err), nil
	}
	if !reg.Success {
		f.Audit.Record(ctx, audit.Entry{
			UserID:   t.User.ID,
			Action:   "REGISTRATION_FAILED",
			Category: audit.CategoryAccount,
			Details:  map[string]string{"reason": reg.Reason},
		})
		return message.Complete(failureText("Registration Failed", reg.Reason, "We could not create your wallet.")), nil
	}

	user, err := f.Users.CompleteRegistration(ctx, *t.User, identity.Profile{
		FirstName:       first,
		LastName:        last,
		WalletAccountID: reg.AccountID,
	})
	if err != nil {
		return message.Response{}, err
	}
	*t.User = user

	f.Audit.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   "REGISTRATION_COMPLETE",
		Category: audit.CategoryAccount,
		Success:  true,
		Details:  map[string]string{"account_id": reg.AccountID},
	})
	err = f.Events.Publish(ctx, events.UserRegistered, events.UserEvent{
		UserID:     user.ID,
		Phone:      user.Phone,
		OccurredAt: f.now().UTC(),
	})
	if err != nil {
		logging.From(ctx, f.Logger).Warn("publish registration event", "user_id", user.ID, "error", err)
	}
	return message.Complete(fmt.Sprintf("*Welcome to your wallet, %s!*\n\nYour account is ready.\nAccount: %s\n\nUse your new PIN to authorize transactions.",
		first, reg.AccountID)), nil
}
