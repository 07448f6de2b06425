package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/congo-pay/chatwallet/internal/audit"
	"github.com/congo-pay/chatwallet/internal/auth"
	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/events"
	"github.com/congo-pay/chatwallet/internal/flows"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/identity"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/lock"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/message"
	"github.com/congo-pay/chatwallet/internal/metrics"
	"github.com/congo-pay/chatwallet/internal/notification"
	"github.com/congo-pay/chatwallet/internal/session"
	"github.com/congo-pay/chatwallet/internal/vault"
)

const (
	johnPhone = "264811234567"
	johnPIN   = "12345"
	newPhone  = "264819876543"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *captureNotifier) Send(_ context.Context, m notification.Message) error {
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
		t.Fatalf("no code sent")
	}
	m := codePattern.FindStringSubmatch(n.sent[len(n.sent)-1].Body)
	if m == nil {
		t.Fatalf("no code in %q", n.sent[len(n.sent)-1].Body)
	}
	return m[1]
}

// faultyGateway panics on Balance when armed.
type faultyGateway struct {
	gateway.Gateway
	armed atomic.Bool
}

func (g *faultyGateway) Balance(ctx context.Context, accountID string) (gateway.Balance, error) {
	if g.armed.Load() {
		panic("balance backend exploded")
	}
	return g.Gateway.Balance(ctx, accountID)
}

type fixture struct {
	engine   *Engine
	gw       *faultyGateway
	ledger   ledger.Ledger
	users    *identity.Service
	states   conversation.Repository
	notifier *captureNotifier
	audit    *audit.MemoryRecorder
	events   *events.Recorder
	seq      atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()
	cfg := config.Defaults()

	f := &fixture{
		gw:       &faultyGateway{Gateway: gateway.NewDemoStub()},
		ledger:   ledger.NewInMemory(),
		users:    identity.NewService(identity.NewMemoryRepository()),
		states:   conversation.NewMemoryRepository(),
		notifier: &captureNotifier{},
		audit:    &audit.MemoryRecorder{},
		events:   &events.Recorder{},
	}

	john, err := f.users.Resolve(ctx, johnPhone, "John")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := f.users.CompleteRegistration(ctx, john, identity.Profile{FirstName: "John", LastName: "Doe", WalletAccountID: "MARIS001"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	sessions := session.NewManager(session.NewMemoryRepository(), cfg.Session, logger)
	authSvc := auth.NewService(cfg.Auth, auth.Deps{
		Users:    f.users,
		Sessions: sessions,
		OTPs:     auth.NewMemoryOTPRepository(),
		Gateway:  f.gw,
		Notifier: f.notifier,
		Audit:    f.audit,
		Events:   f.events,
		Logger:   logger,
	})
	v, err := vault.New("engine-test")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	registry := flows.NewRegistry(flows.Deps{
		Gateway: f.gw,
		Ledger:  f.ledger,
		Auth:    authSvc,
		Users:   f.users,
		Vault:   v,
		Audit:   f.audit,
		Events:  f.events,
		Logger:  logger,
		Catalog: config.DefaultCatalog(),
	})
	f.engine = New(cfg.Auth, cfg.LockTTL, Deps{
		Users:    f.users,
		States:   f.states,
		Sessions: sessions,
		Auth:     authSvc,
		Flows:    registry,
		Locker:   lock.NewKeyed(),
		Metrics:  metrics.New(),
		Logger:   logger,
	})
	return f
}

func (f *fixture) nextID() string {
	return fmt.Sprintf("wamid-%d", f.seq.Add(1))
}

func (f *fixture) deliver(t *testing.T, ev message.Event) message.Response {
	t.Helper()
	resp := f.engine.ProcessMessage(context.Background(), ev)
	f.assertStateInvariant(t, ev.From)
	return resp
}

func (f *fixture) say(t *testing.T, from, text string) message.Response {
	t.Helper()
	return f.deliver(t, message.Event{MessageID: f.nextID(), From: from, Type: message.TypeText, Text: text})
}

func (f *fixture) press(t *testing.T, from, id string) message.Response {
	t.Helper()
	return f.deliver(t, message.Event{MessageID: f.nextID(), From: from, Type: message.TypeButton, SelectionID: id})
}

func (f *fixture) state(t *testing.T, phone string) conversation.State {
	t.Helper()
	user, err := f.users.Resolve(context.Background(), phone, "")
	if err != nil {
		t.Fatalf("resolve %s: %v", phone, err)
	}
	state, err := conversation.Resolve(context.Background(), f.states, user.ID)
	if err != nil {
		t.Fatalf("state %s: %v", phone, err)
	}
	return state
}

func (f *fixture) assertStateInvariant(t *testing.T, phone string) {
	t.Helper()
	state := f.state(t, phone)
	if err := state.Check(); err != nil {
		t.Fatalf("state invariant broken: %v (%+v)", err, state)
	}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.say(t, johnPhone, "hi")
	f.say(t, johnPhone, "menu")
	resp := f.say(t, johnPhone, "balance please")
	if !strings.Contains(resp.Text, "enter your 5-digit PIN") {
		t.Fatalf("expected pin prompt, got %+v", resp)
	}
	resp = f.say(t, johnPhone, johnPIN)
	if resp.Kind != message.KindMenu || !strings.Contains(resp.Greeting, "Welcome John") {
		t.Fatalf("expected welcome menu, got %+v", resp)
	}
}

func texts(resp message.Response) []string {
	if resp.Kind != message.KindMultiple {
		return []string{resp.Text}
	}
	out := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, m.Text)
	}
	return out
}

func TestRegistrationEndToEnd(t *testing.T) {
	f := newFixture(t)

	resp := f.say(t, newPhone, "hello")
	if resp.Kind != message.KindButtons || len(resp.Buttons) != 2 || resp.Buttons[0].ID != "REGISTER" {
		t.Fatalf("expected registration offer, got %+v", resp)
	}
	resp = f.press(t, newPhone, "LEARN_MORE")
	if resp.Kind != message.KindMultiple || !strings.Contains(resp.Messages[0].Text, "About the Wallet") {
		t.Fatalf("expected info then offer, got %+v", resp)
	}
	resp = f.say(t, newPhone, "yes")
	if !strings.Contains(resp.Text, "first name") {
		t.Fatalf("expected registration start, got %+v", resp)
	}
	if got := f.state(t, newPhone); got.Flow != flows.Registration || got.Step != "FIRST_NAME" {
		t.Fatalf("unexpected state %+v", got)
	}

	for _, in := range []string{"Maria", "Nangolo", "N1234567", "24680", "24680"} {
		f.say(t, newPhone, in)
	}
	resp = f.say(t, newPhone, f.notifier.lastCode(t))
	if resp.Kind != message.KindMultiple || len(resp.Messages) != 2 {
		t.Fatalf("expected completion plus menu, got %+v", resp)
	}
	if !strings.Contains(resp.Messages[0].Text, "Welcome to your wallet, Maria") || resp.Messages[1].Kind != message.KindMenu {
		t.Fatalf("unexpected completion %+v", resp)
	}
	if got := f.state(t, newPhone); got.Active() || got.PendingAction != "" {
		t.Fatalf("state not reset after registration: %+v", got)
	}

	resp = f.say(t, newPhone, "f")
	if !strings.Contains(resp.Text, "PIN") {
		t.Fatalf("expected pin prompt for new account, got %+v", resp)
	}
	resp = f.say(t, newPhone, "24680")
	got := texts(resp)
	if len(got) != 3 || !strings.Contains(got[1], "Available: NAD 1500.00") {
		t.Fatalf("unexpected balance after registration %q", got)
	}
}

func TestPendingActionSurvivesAuthentication(t *testing.T) {
	f := newFixture(t)

	resp := f.say(t, johnPhone, "6")
	if !strings.Contains(resp.Text, "enter your 5-digit PIN") {
		t.Fatalf("expected pin prompt, got %+v", resp)
	}
	if got := f.state(t, johnPhone); got.PendingAction != flows.CheckBalance || got.AwaitingInput != conversation.AwaitingPIN {
		t.Fatalf("selection not stashed: %+v", got)
	}

	resp = f.say(t, johnPhone, johnPIN)
	if resp.Kind != message.KindMultiple || len(resp.Messages) != 3 {
		t.Fatalf("expected welcome, balance and menu, got %+v", resp)
	}
	if resp.Messages[0].Text != "Welcome John! ✓" {
		t.Fatalf("unexpected welcome %q", resp.Messages[0].Text)
	}
	if !strings.Contains(resp.Messages[1].Text, "Available: NAD 5000.00") || resp.Messages[2].Kind != message.KindMenu {
		t.Fatalf("unexpected balance %+v", resp.Messages)
	}
	if got := f.state(t, johnPhone); got.PendingAction != "" || got.Active() || got.AwaitingInput != "" {
		t.Fatalf("state not idle: %+v", got)
	}
}

func TestMenuSelectionRecognition(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	for _, in := range []string{"A", "1", "buy_airtime"} {
		resp := f.say(t, johnPhone, in)
		if resp.Kind != message.KindButtons || resp.Header != "Buy Airtime" {
			t.Fatalf("%q did not start airtime: %+v", in, resp)
		}
		f.say(t, johnPhone, "menu")
	}

	resp := f.say(t, johnPhone, "z")
	if resp.Kind != message.KindMultiple || resp.Messages[0].Text != "Invalid selection. Please choose from the menu." {
		t.Fatalf("unmapped shortcut not rejected: %+v", resp)
	}
	resp = f.say(t, johnPhone, "what can you do")
	if resp.Kind != message.KindMenu {
		t.Fatalf("expected menu, got %+v", resp)
	}
	resp = f.say(t, johnPhone, "HELP")
	if !strings.HasPrefix(resp.Text, "*Help*") {
		t.Fatalf("expected help, got %+v", resp)
	}
}

func TestCancelResetsActiveFlow(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.say(t, johnPhone, "c")
	f.say(t, johnPhone, "0815551234")
	if got := f.state(t, johnPhone); got.Flow != flows.SendMoney || got.Step != "ENTER_AMOUNT" {
		t.Fatalf("unexpected state %+v", got)
	}

	resp := f.say(t, johnPhone, "CANCEL")
	if resp.Kind != message.KindMultiple || resp.Messages[0].Text != "Operation cancelled." || resp.Messages[1].Kind != message.KindMenu {
		t.Fatalf("unexpected cancel reply %+v", resp)
	}
	got := f.state(t, johnPhone)
	if got.Active() || len(got.Data) != 0 || got.Step != "" {
		t.Fatalf("flow not reset: %+v", got)
	}

	resp = f.say(t, johnPhone, "#")
	if resp.Kind != message.KindMenu {
		t.Fatalf("cancel without a flow should show the menu, got %+v", resp)
	}
}

func TestLockoutAfterThreeWrongPINs(t *testing.T) {
	f := newFixture(t)

	f.say(t, johnPhone, "f")
	resp := f.say(t, johnPhone, "11111")
	if !strings.Contains(resp.Text, "2 attempt(s) remaining") {
		t.Fatalf("unexpected first failure %q", resp.Text)
	}
	resp = f.say(t, johnPhone, "1234")
	if !strings.Contains(resp.Text, "Invalid PIN format") {
		t.Fatalf("format error should not consume an attempt: %q", resp.Text)
	}
	resp = f.say(t, johnPhone, "22222")
	if !strings.Contains(resp.Text, "1 attempt(s) remaining") {
		t.Fatalf("unexpected second failure %q", resp.Text)
	}
	resp = f.say(t, johnPhone, "33333")
	if !strings.Contains(resp.Text, "locked for 30 minutes") {
		t.Fatalf("expected lockout, got %q", resp.Text)
	}

	resp = f.say(t, johnPhone, johnPIN)
	if !strings.Contains(resp.Text, "Your account is locked") {
		t.Fatalf("correct pin accepted while locked: %q", resp.Text)
	}
	user, err := f.users.Resolve(context.Background(), johnPhone, "")
	if err != nil || !user.IsBlocked {
		t.Fatalf("user not blocked: %+v %v", user, err)
	}
	if f.audit.Count("ACCOUNT_LOCKED") != 1 {
		t.Fatalf("expected one lock audit entry")
	}
}

func TestConcurrentConfirmationRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.say(t, johnPhone, "a")
	f.press(t, johnPhone, "SELF")
	resp := f.say(t, johnPhone, "50")
	if resp.Kind != message.KindConfirmation {
		t.Fatalf("expected confirmation, got %+v", resp)
	}

	dup := message.Event{MessageID: f.nextID(), From: johnPhone, Type: message.TypeButton, SelectionID: "CONFIRM_YES"}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		ev := dup
		if i%2 == 1 {
			ev.MessageID = f.nextID()
		}
		wg.Add(1)
		go func(ev message.Event) {
			defer wg.Done()
			f.engine.ProcessMessage(context.Background(), ev)
		}(ev)
	}
	wg.Wait()

	txs := ledger.All(f.ledger)
	if len(txs) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(txs))
	}
	if txs[0].Status != ledger.StatusCompleted || txs[0].Amount != 50_00 {
		t.Fatalf("unexpected transaction %+v", txs[0])
	}
	f.assertStateInvariant(t, johnPhone)
}

func TestRedeliveredMessageIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	ev := message.Event{MessageID: f.nextID(), From: johnPhone, Type: message.TypeText, Text: "g"}
	first := f.deliver(t, ev)
	if first.Kind != message.KindMultiple || !strings.Contains(first.Messages[0].Text, "Recent Transactions") {
		t.Fatalf("unexpected history %+v", first)
	}
	again := f.deliver(t, ev)
	if again.Kind != message.KindMultiple || len(again.Messages) != 0 {
		t.Fatalf("expected empty reply for redelivery, got %+v", again)
	}
}

func TestOutOfOrderRedeliveryIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	pick := message.Event{MessageID: f.nextID(), From: johnPhone, Type: message.TypeText, Text: "1"}
	f.deliver(t, pick)
	f.press(t, johnPhone, "SELF")
	before := f.state(t, johnPhone)

	// An older message arriving after a newer one is still a duplicate.
	again := f.deliver(t, pick)
	if again.Kind != message.KindMultiple || len(again.Messages) != 0 {
		t.Fatalf("expected empty reply for stale redelivery, got %+v", again)
	}
	after := f.state(t, johnPhone)
	if after.Flow != before.Flow || after.Step != before.Step {
		t.Fatalf("stale redelivery moved the flow: before %+v after %+v", before, after)
	}
}

func TestInternalFailureApologizesAndKeepsState(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	before := f.state(t, johnPhone)

	f.gw.armed.Store(true)
	resp := f.say(t, johnPhone, "f")
	if resp.Text != apology {
		t.Fatalf("expected apology, got %+v", resp)
	}
	after := f.state(t, johnPhone)
	if after.LastMessageID != before.LastMessageID || after.Flow != before.Flow || after.PendingAction != before.PendingAction {
		t.Fatalf("state changed on failure: before %+v after %+v", before, after)
	}

	f.gw.armed.Store(false)
	resp = f.say(t, johnPhone, "f")
	if resp.Kind != message.KindMultiple || !strings.Contains(resp.Messages[0].Text, "Account Balance") {
		t.Fatalf("engine did not recover: %+v", resp)
	}
}

func TestInvalidEventApologizes(t *testing.T) {
	f := newFixture(t)
	resp := f.engine.ProcessMessage(context.Background(), message.Event{MessageID: "x", Type: message.TypeText, Text: "hi"})
	if resp.Text != apology {
		t.Fatalf("expected apology, got %+v", resp)
	}
}

func TestSelectionMapping(t *testing.T) {
	cases := map[string]string{
		"a": flows.BuyAirtime, "J": flows.Insurance, "0": flows.Insurance,
		"pay_bill": flows.PayBill, "SEND_MONEY": flows.SendMoney, " 6 ": flows.CheckBalance,
	}
	for in, want := range cases {
		got, ok := selection(in)
		if !ok || got != want {
			t.Errorf("selection(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	for _, in := range []string{"k", "REGISTRATION", "airtime"} {
		if _, ok := selection(in); ok {
			t.Errorf("selection(%q) should not map", in)
		}
	}
}

func TestLogoutEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.say(t, johnPhone, "logout")
	if resp.Text != "You are not logged in." {
		t.Fatalf("unexpected logout before login %+v", resp)
	}

	f.login(t)
	f.say(t, johnPhone, "1")
	resp = f.say(t, johnPhone, "LOGOUT")
	if !strings.Contains(resp.Text, "logged out") {
		t.Fatalf("unexpected logout response %+v", resp)
	}
	if st := f.state(t, johnPhone); st.Active() {
		t.Fatalf("flow survived logout: %+v", st)
	}

	john, _ := f.users.Resolve(ctx, johnPhone, "")
	if _, ok, _ := f.engine.Sessions.Active(ctx, john.ID); ok {
		t.Fatalf("session still active after logout")
	}
	resp = f.say(t, johnPhone, "6")
	if !strings.Contains(resp.Text, "enter your 5-digit PIN") {
		t.Fatalf("expected pin prompt after logout, got %+v", resp)
	}
}
