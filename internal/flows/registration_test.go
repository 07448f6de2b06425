package flows

import (
	"context"
	"strings"
	"testing"

	"github.com/congo-pay/chatwallet/internal/events"
)

const newcomer = "264819876543"

func TestRegistrationValidation(t *testing.T) {
	h := newHarness(t, newcomer)
	h.start(t, Registration)

	if resp := h.say(t, "M"); !strings.Contains(resp.Text, "valid first name") {
		t.Fatalf("short first name accepted: %q", resp.Text)
	}
	h.say(t, "Maria")
	if resp := h.say(t, strings.Repeat("x", 51)); !strings.Contains(resp.Text, "valid last name") {
		t.Fatalf("long last name accepted: %q", resp.Text)
	}
	h.say(t, "Nangolo")

	if resp := h.say(t, "ab 12"); !strings.Contains(resp.Text, "valid ID") {
		t.Fatalf("short id accepted: %q", resp.Text)
	}
	h.say(t, " ab 123 456 ")
	if got := h.state.Data.String("idNumber"); got != "AB123456" {
		t.Fatalf("id normalized to %q", got)
	}

	for _, weak := range []string{"12345", "00000", "55555"} {
		if resp := h.say(t, weak); !strings.Contains(resp.Text, "too easy") {
			t.Fatalf("weak pin %s accepted: %q", weak, resp.Text)
		}
	}
	if resp := h.say(t, "2468"); !strings.Contains(resp.Text, "exactly 5 digits") {
		t.Fatalf("short pin accepted: %q", resp.Text)
	}
	h.say(t, "24680")
	if strings.Contains(h.state.Data.String("pin"), "24680") {
		t.Fatalf("pin stored in clear")
	}

	resp := h.say(t, "13579")
	if !strings.Contains(resp.Text, "PINs do not match") || h.state.Step != stepCreatePIN {
		t.Fatalf("mismatch not sent back to create: %q step=%s", resp.Text, h.state.Step)
	}
}

func TestRegistrationCompletes(t *testing.T) {
	h := newHarness(t, newcomer)
	h.start(t, Registration)
	h.say(t, "Maria")
	h.say(t, "Nangolo")
	h.say(t, "N1234567")
	h.say(t, "24680")
	resp := h.say(t, "24680")
	if h.state.Step != stepVerifyOTP || !strings.Contains(resp.Text, "264****6543") {
		t.Fatalf("expected otp step, got %s %q", h.state.Step, resp.Text)
	}

	code := h.notifier.lastCode(t)
	wrong := "9" + code[1:]
	if code[0] == '9' {
		wrong = "1" + code[1:]
	}
	resp = h.say(t, wrong)
	if !strings.Contains(resp.Text, "Invalid code") || h.state.Step != stepVerifyOTP {
		t.Fatalf("wrong code accepted: %q", resp.Text)
	}

	resp = h.say(t, code)
	if !resp.Complete || !strings.Contains(resp.Text, "Welcome to your wallet, Maria") {
		t.Fatalf("unexpected completion %q", resp.Text)
	}
	if !h.user.IsRegistered || h.user.WalletAccountID == "" || h.user.FirstName != "Maria" {
		t.Fatalf("user not updated: %+v", h.user)
	}
	stored, err := h.users.Resolve(context.Background(), newcomer, "")
	if err != nil || !stored.IsRegistered {
		t.Fatalf("registration not persisted: %+v %v", stored, err)
	}
	ok, err := h.stub.VerifyPIN(context.Background(), h.user.WalletAccountID, "24680")
	if err != nil || !ok {
		t.Fatalf("backend did not receive the chosen pin")
	}
	if h.audit.Count("REGISTRATION_COMPLETE") != 1 {
		t.Fatalf("missing audit entry")
	}
	subjects := h.events.Subjects()
	if len(subjects) != 1 || subjects[0] != events.UserRegistered {
		t.Fatalf("unexpected events %v", subjects)
	}
}

func TestRegistrationExhaustedCodeEndsFlow(t *testing.T) {
	h := newHarness(t, newcomer)
	h.start(t, Registration)
	h.say(t, "Maria")
	h.say(t, "Nangolo")
	h.say(t, "N1234567")
	h.say(t, "24680")
	h.say(t, "24680")

	code := h.notifier.lastCode(t)
	wrong := "9" + code[1:]
	if code[0] == '9' {
		wrong = "1" + code[1:]
	}
	h.say(t, wrong)
	h.say(t, wrong)
	resp := h.say(t, wrong)
	if !resp.Complete || !strings.Contains(resp.Text, "type REGISTER to start again") {
		t.Fatalf("expected expiry after exhausting attempts, got %q", resp.Text)
	}
	if h.user.IsRegistered {
		t.Fatalf("user registered without a valid code")
	}
}
