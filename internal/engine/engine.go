// Package engine turns inbound chat events into responses. It resolves the
// sender, applies global commands, gates on registration and PIN
// authentication, and dispatches to the active flow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/congo-pay/chatwallet/internal/auth"
	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/flows"
	"github.com/congo-pay/chatwallet/internal/identity"
	"github.com/congo-pay/chatwallet/internal/lock"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/message"
	"github.com/congo-pay/chatwallet/internal/metrics"
	"github.com/congo-pay/chatwallet/internal/session"
)

const apology = "Sorry, something went wrong. Please try again or type MENU to start over."

const helpText = "*Help*\n\n" +
	"Type MENU to see all services.\n" +
	"Type CANCEL to stop the current operation.\n" +
	"Type LOGOUT to end your session.\n" +
	"Type HELP to see this message again.\n\n" +
	"Pick a service with its letter (A-J) or number (0-9)."

const learnMoreText = "*About the Wallet*\n\n" +
	"Send money, buy airtime and data, pay bills and merchants, and get instant loans right here in chat.\n\n" +
	"All you need is your ID number and a 5-digit PIN."

var (
	greetings = map[string]bool{"hi": true, "hello": true, "hey": true, "start": true, "good morning": true, "good afternoon": true, "good evening": true}
	cancels   = map[string]bool{"cancel": true, "exit": true, "back": true, "#": true}

	shortcuts = map[string]string{
		"a": flows.BuyAirtime, "1": flows.BuyAirtime,
		"b": flows.BuyData, "2": flows.BuyData,
		"c": flows.SendMoney, "3": flows.SendMoney,
		"d": flows.PayBill, "4": flows.PayBill,
		"e": flows.PayMerchant, "5": flows.PayMerchant,
		"f": flows.CheckBalance, "6": flows.CheckBalance,
		"g": flows.History, "7": flows.History,
		"h": flows.InstantLoan, "8": flows.InstantLoan,
		"i": flows.Savings, "9": flows.Savings,
		"j": flows.Insurance, "0": flows.Insurance,
	}
	shortcutPattern = regexp.MustCompile(`^[a-zA-Z0-9]$`)
)

// Deps are the collaborators of the engine.
type Deps struct {
	Users    *identity.Service
	States   conversation.Repository
	Sessions *session.Manager
	Auth     *auth.Service
	Flows    flows.Registry
	Locker   lock.Locker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Engine processes one message per user at a time.
type Engine struct {
	Deps
	auth     config.AuthConfig
	lockWait time.Duration
	now      func() time.Time
}

// New builds an engine. lockWait bounds how long a message waits behind an
// earlier one from the same sender.
func New(cfg config.AuthConfig, lockWait time.Duration, deps Deps) *Engine {
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyed()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if lockWait <= 0 {
		lockWait = 30 * time.Second
	}
	return &Engine{Deps: deps, auth: cfg, lockWait: lockWait, now: time.Now}
}

// ProcessMessage handles ev and always returns something to send back.
// Internal failures are logged and answered with an apology.
func (e *Engine) ProcessMessage(ctx context.Context, ev message.Event) (resp message.Response) {
	start := e.now()
	outcome := "ok"
	defer func() {
		e.Metrics.ObserveMessage(outcome, e.now().Sub(start))
	}()

	ctx = logging.WithUser(ctx, ev.From)
	logger := logging.From(ctx, e.Logger)
	if err := ev.Validate(); err != nil {
		outcome = "invalid"
		logger.Warn("rejecting inbound event", "message_id", ev.MessageID, "error", err)
		return message.Text(apology)
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	unlock, err := e.Locker.Lock(lockCtx, ev.From)
	cancel()
	if err != nil {
		outcome = "busy"
		logger.Error("acquire user lock", "message_id", ev.MessageID, "error", err)
		return message.Text(apology)
	}
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			logger.Error("panic while processing message", "message_id", ev.MessageID, "panic", fmt.Sprint(r))
			resp = message.Text(apology)
		}
	}()

	resp, err = e.handle(ctx, ev)
	if err != nil {
		outcome = "error"
		logger.Error("process message", "message_id", ev.MessageID, "error", err)
		return message.Text(apology)
	}
	return resp
}

// turnError annotates err with the flow position it happened at.
func turnError(t *flows.Turn, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("flow %q step %q: %w", t.State.Flow, t.State.Step, err)
}

func (e *Engine) handle(ctx context.Context, ev message.Event) (message.Response, error) {
	user, err := e.Users.Resolve(ctx, ev.From, ev.ContactName)
	if err != nil {
		return message.Response{}, err
	}
	state, err := conversation.Resolve(ctx, e.States, user.ID)
	if err != nil {
		return message.Response{}, err
	}
	if state.Seen(ev.MessageID) {
		logging.From(ctx, e.Logger).Info("ignoring redelivered message", "message_id", ev.MessageID)
		return message.Multiple(), nil
	}

	t := flows.NewTurn(&user, &state, session.Session{}, ev, func(ctx context.Context) error {
		state.Remember(ev.MessageID)
		return e.States.Save(ctx, state)
	})
	resp, err := e.route(ctx, t)
	if err != nil {
		return message.Response{}, turnError(t, err)
	}

	state.Remember(ev.MessageID)
	if err := state.Check(); err != nil {
		return message.Response{}, fmt.Errorf("conversation state: %w", err)
	}
	if err := e.States.Save(ctx, state); err != nil {
		return message.Response{}, fmt.Errorf("save conversation state: %w", err)
	}
	return resp, nil
}

func (e *Engine) route(ctx context.Context, t *flows.Turn) (message.Response, error) {
	input := t.Event.Input()
	if resp, ok := e.command(t, strings.ToLower(input)); ok {
		return resp, nil
	}

	if !t.User.IsRegistered {
		return e.unregistered(ctx, t, input)
	}

	if t.User.Locked(e.now()) {
		t.State.Reset()
		return message.Text(e.lockedText(t.User.BlockedUntil)), nil
	}

	sess, ok, err := e.Sessions.Active(ctx, t.User.ID)
	if err != nil {
		return message.Response{}, err
	}
	if strings.EqualFold(input, "logout") {
		return e.logout(ctx, t, sess, ok)
	}
	if !ok || !sess.IsAuthenticated {
		return e.authenticate(ctx, t, input)
	}

	if err := e.Sessions.Touch(ctx, sess.ID); err != nil {
		return message.Response{}, err
	}
	t.Session = sess

	if t.State.PendingAction != "" && !t.State.Active() {
		pending := t.State.PendingAction
		t.State.PendingAction = ""
		return e.start(ctx, t, pending)
	}
	if t.State.Active() {
		return e.resume(ctx, t)
	}
	if id, ok := selection(input); ok {
		return e.start(ctx, t, id)
	}
	if shortcutPattern.MatchString(input) {
		return message.Multiple(message.Text("Invalid selection. Please choose from the menu."), e.menu(t, "")), nil
	}
	return e.menu(t, ""), nil
}

// command handles the global commands. ok is false when input is not one.
func (e *Engine) command(t *flows.Turn, cmd string) (message.Response, bool) {
	switch {
	case greetings[cmd]:
		t.State.Reset()
		return e.menu(t, fmt.Sprintf("Hello %s! How can I help you today?", t.User.Name())), true
	case cmd == "menu" || cmd == "00":
		t.State.Reset()
		return e.menu(t, ""), true
	case cancels[cmd]:
		if !t.State.Active() {
			t.State.Reset()
			return e.menu(t, ""), true
		}
		t.State.Reset()
		return message.Multiple(message.Text("Operation cancelled."), e.menu(t, "")), true
	case cmd == "help":
		return message.Text(helpText), true
	}
	return message.Response{}, false
}

// logout ends the user's session and abandons any flow in progress.
func (e *Engine) logout(ctx context.Context, t *flows.Turn, sess session.Session, ok bool) (message.Response, error) {
	t.State.Reset()
	if !ok || !sess.IsAuthenticated {
		return message.Text("You are not logged in."), nil
	}
	if err := e.Sessions.Invalidate(ctx, sess.ID, "LOGOUT"); err != nil {
		return message.Response{}, fmt.Errorf("logout: %w", err)
	}
	logging.From(ctx, e.Logger).Info("user logged out", "user_id", t.User.ID, "session_id", sess.ID)
	return message.Text("You have been logged out. Send any message to log in again."), nil
}

// menu shows the service menu, or the registration offer to unregistered
// users.
func (e *Engine) menu(t *flows.Turn, greeting string) message.Response {
	if !t.User.IsRegistered {
		return e.offer(t)
	}
	if greeting == "" {
		greeting = "What would you like to do?"
	}
	return message.Menu(greeting)
}

func (e *Engine) offer(t *flows.Turn) message.Response {
	t.State.AwaitingInput = conversation.AwaitingRegistrationChoice
	name := t.User.Name()
	if name == "" {
		name = "there"
	}
	return message.Buttons("Welcome",
		fmt.Sprintf("Hi %s! You don't have a wallet account yet. Would you like to create one? It takes less than 2 minutes.", name),
		"",
		message.Button{ID: "REGISTER", Title: "Register Now"},
		message.Button{ID: "LEARN_MORE", Title: "Learn More"},
	)
}

func (e *Engine) unregistered(ctx context.Context, t *flows.Turn, input string) (message.Response, error) {
	if t.State.Flow == flows.Registration {
		return e.resume(ctx, t)
	}
	if t.State.Active() {
		t.State.Reset()
	}
	lower := strings.ToLower(input)
	switch {
	case lower == "register" || lower == "1":
		return e.start(ctx, t, flows.Registration)
	case t.State.AwaitingInput == conversation.AwaitingRegistrationChoice && (lower == "yes" || lower == "y"):
		return e.start(ctx, t, flows.Registration)
	case lower == "learn_more" || lower == "learn more":
		return message.Multiple(message.Text(learnMoreText), e.offer(t)), nil
	}
	return e.offer(t), nil
}

// authenticate runs the PIN gate. A flow picked before authenticating is
// kept in PendingAction and started once the PIN is accepted.
func (e *Engine) authenticate(ctx context.Context, t *flows.Turn, input string) (message.Response, error) {
	if t.State.Active() {
		// The session lapsed mid-flow; the flow is abandoned, not resumed.
		t.State.Reset()
		t.State.AwaitingInput = conversation.AwaitingPIN
		return message.Text(fmt.Sprintf("Your session has expired. Please enter your %d-digit PIN to continue:", e.auth.PINLength)), nil
	}

	id, picked := selection(input)
	if picked && (t.State.AwaitingInput != conversation.AwaitingPIN || !e.Auth.ValidPINFormat(input)) {
		t.State.PendingAction = id
		t.State.AwaitingInput = conversation.AwaitingPIN
		return message.Text(fmt.Sprintf("Please enter your %d-digit PIN to continue:", e.auth.PINLength)), nil
	}
	if t.State.AwaitingInput != conversation.AwaitingPIN {
		t.State.AwaitingInput = conversation.AwaitingPIN
		return message.Text(fmt.Sprintf("Welcome back %s! Please enter your %d-digit PIN to continue:", t.User.Name(), e.auth.PINLength)), nil
	}

	out, err := e.Auth.VerifyPIN(ctx, t.User, input, t.State)
	if err != nil {
		return message.Response{}, err
	}
	switch out.Status {
	case auth.PINInvalidFormat:
		return message.Text(fmt.Sprintf("Invalid PIN format. Please enter your %d-digit PIN:", e.auth.PINLength)), nil
	case auth.PINIncorrect:
		return message.Text(fmt.Sprintf("Incorrect PIN. You have %d attempt(s) remaining.\n\nPlease enter your %d-digit PIN:",
			out.AttemptsRemaining, e.auth.PINLength)), nil
	case auth.PINLockedOut:
		t.State.Reset()
		return message.Text(fmt.Sprintf("Too many incorrect PIN attempts. Your account has been locked for %d minutes. Please try again later.",
			int(e.auth.PINLockout.Minutes()))), nil
	case auth.PINLocked:
		t.State.Reset()
		return message.Text(e.lockedText(out.LockedUntil)), nil
	}

	t.Session = out.Session
	welcome := fmt.Sprintf("Welcome %s! ✓", t.User.Name())
	if pending := t.State.PendingAction; pending != "" {
		t.State.PendingAction = ""
		resp, err := e.start(ctx, t, pending)
		if err != nil {
			return message.Response{}, err
		}
		return message.Multiple(message.Text(welcome), resp), nil
	}
	return message.Menu(welcome + " You are now logged in. What would you like to do?"), nil
}

func (e *Engine) lockedText(until time.Time) string {
	minutes := int(math.Ceil(until.Sub(e.now()).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your account is locked. Please try again in %d minutes.", minutes)
}

// selection maps a menu shortcut or canonical flow id to a flow id.
func selection(input string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(input))
	if id, ok := shortcuts[key]; ok {
		return id, true
	}
	upper := strings.ToUpper(key)
	for _, id := range shortcuts {
		if id == upper {
			return id, true
		}
	}
	return "", false
}

var errUnknownFlow = errors.New("unknown flow")

func (e *Engine) start(ctx context.Context, t *flows.Turn, id string) (message.Response, error) {
	f, ok := e.Flows.Get(id)
	if !ok {
		return message.Response{}, fmt.Errorf("%w: %s", errUnknownFlow, id)
	}
	t.State.Begin(id)
	e.Metrics.FlowStarted(id)
	resp, err := f.Start(ctx, t)
	if err != nil {
		return message.Response{}, err
	}
	return e.settle(t, id, resp), nil
}

func (e *Engine) resume(ctx context.Context, t *flows.Turn) (message.Response, error) {
	id := t.State.Flow
	f, ok := e.Flows.Get(id)
	if !ok {
		logging.From(ctx, e.Logger).Warn("dropping state for unknown flow", "flow", id)
		t.State.Reset()
		return e.menu(t, ""), nil
	}
	resp, err := f.Process(ctx, t)
	if err != nil {
		return message.Response{}, err
	}
	return e.settle(t, id, resp), nil
}

// settle resets state after a completed flow and appends the menu.
func (e *Engine) settle(t *flows.Turn, id string, resp message.Response) message.Response {
	if !resp.Complete {
		return resp
	}
	e.Metrics.FlowCompleted(id)
	t.State.Reset()
	return message.Multiple(resp, e.menu(t, "What else can I help you with?"))
}
