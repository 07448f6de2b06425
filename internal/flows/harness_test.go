package flows

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/congo-pay/chatwallet/internal/audit"
	"github.com/congo-pay/chatwallet/internal/auth"
	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/events"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/identity"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/message"
	"github.com/congo-pay/chatwallet/internal/notification"
	"github.com/congo-pay/chatwallet/internal/session"
	"github.com/congo-pay/chatwallet/internal/vault"
)

// countingGateway counts mutating calls. With hang set they block until the
// caller's deadline.
type countingGateway struct {
	gateway.Gateway
	mu    sync.Mutex
	calls int
	hang  bool
}

func (g *countingGateway) hit(ctx context.Context) error {
	g.mu.Lock()
	g.calls++
	hang := g.hang
	g.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (g *countingGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *countingGateway) Transfer(ctx context.Context, req gateway.TransferRequest) (gateway.Result, error) {
	if err := g.hit(ctx); err != nil {
		return gateway.Result{}, err
	}
	return g.Gateway.Transfer(ctx, req)
}

func (g *countingGateway) BuyAirtime(ctx context.Context, req gateway.AirtimeRequest) (gateway.Result, error) {
	if err := g.hit(ctx); err != nil {
		return gateway.Result{}, err
	}
	return g.Gateway.BuyAirtime(ctx, req)
}

func (g *countingGateway) BuyDataBundle(ctx context.Context, req gateway.DataBundleRequest) (gateway.Result, error) {
	if err := g.hit(ctx); err != nil {
		return gateway.Result{}, err
	}
	return g.Gateway.BuyDataBundle(ctx, req)
}

func (g *countingGateway) PayBill(ctx context.Context, req gateway.BillRequest) (gateway.Result, error) {
	if err := g.hit(ctx); err != nil {
		return gateway.Result{}, err
	}
	return g.Gateway.PayBill(ctx, req)
}

func (g *countingGateway) ApplyLoan(ctx context.Context, req gateway.LoanRequest) (gateway.LoanResult, error) {
	if err := g.hit(ctx); err != nil {
		return gateway.LoanResult{}, err
	}
	return g.Gateway.ApplyLoan(ctx, req)
}

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

type harness struct {
	flows    Registry
	gw       *countingGateway
	stub     *gateway.Stub
	ledger   ledger.Ledger
	users    *identity.Service
	audit    *audit.MemoryRecorder
	events   *events.Recorder
	notifier *captureNotifier
	user     identity.User
	state    conversation.State
	saves    int
}

type harnessOption func(*Deps)

func withTimeout(d time.Duration) harnessOption {
	return func(deps *Deps) { deps.GatewayTimeout = d }
}

// newHarness builds flows over the demo stub. The user is the registered
// demo account MARIS001 unless phone names someone else.
func newHarness(t *testing.T, phone string, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	stub := gateway.NewDemoStub()
	h := &harness{
		gw:       &countingGateway{Gateway: stub},
		stub:     stub,
		ledger:   ledger.NewInMemory(),
		users:    identity.NewService(identity.NewMemoryRepository()),
		audit:    &audit.MemoryRecorder{},
		events:   &events.Recorder{},
		notifier: &captureNotifier{},
	}

	user, err := h.users.Resolve(ctx, phone, "Tester")
	if err != nil {
		t.Fatalf("resolve user: %v", err)
	}
	if phone == gateway.DemoAccounts[0].Phone {
		user, err = h.users.CompleteRegistration(ctx, user, identity.Profile{FirstName: "John", LastName: "Doe", WalletAccountID: "MARIS001"})
		if err != nil {
			t.Fatalf("register user: %v", err)
		}
	}
	h.user = user
	h.state = conversation.State{UserID: user.ID, Data: conversation.FlowData{}}

	v, err := vault.New("flows-test-secret")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	authSvc := auth.NewService(config.Defaults().Auth, auth.Deps{
		Users:    h.users,
		Sessions: session.NewManager(session.NewMemoryRepository(), config.Defaults().Session, logger),
		OTPs:     auth.NewMemoryOTPRepository(),
		Gateway:  h.gw,
		Notifier: h.notifier,
		Audit:    h.audit,
		Events:   h.events,
		Logger:   logger,
	})
	deps := Deps{
		Gateway: h.gw,
		Ledger:  h.ledger,
		Auth:    authSvc,
		Users:   h.users,
		Vault:   v,
		Audit:   h.audit,
		Events:  h.events,
		Logger:  logger,
		Catalog: config.DefaultCatalog(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.flows = NewRegistry(deps)
	return h
}

func (h *harness) turn(ev message.Event) *Turn {
	return NewTurn(&h.user, &h.state, session.Session{}, ev, func(context.Context) error {
		h.saves++
		return nil
	})
}

func (h *harness) start(t *testing.T, id string) message.Response {
	t.Helper()
	f, ok := h.flows.Get(id)
	if !ok {
		t.Fatalf("flow %s not registered", id)
	}
	h.state.Begin(id)
	resp, err := f.Start(context.Background(), h.turn(message.Event{MessageID: "start", From: h.user.Phone, Type: message.TypeText}))
	if err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	return h.settle(t, resp)
}

func (h *harness) send(t *testing.T, ev message.Event) message.Response {
	t.Helper()
	f, ok := h.flows.Get(h.state.Flow)
	if !ok {
		t.Fatalf("no active flow for %+v", ev)
	}
	ev.From = h.user.Phone
	resp, err := f.Process(context.Background(), h.turn(ev))
	if err != nil {
		t.Fatalf("process %q at %s/%s: %v", ev.Input(), h.state.Flow, h.state.Step, err)
	}
	return h.settle(t, resp)
}

func (h *harness) say(t *testing.T, text string) message.Response {
	t.Helper()
	return h.send(t, message.Event{MessageID: "m", Type: message.TypeText, Text: text})
}

func (h *harness) press(t *testing.T, id string) message.Response {
	t.Helper()
	return h.send(t, message.Event{MessageID: "m", Type: message.TypeButton, SelectionID: id})
}

// settle mirrors the engine: a completed flow resets state.
func (h *harness) settle(t *testing.T, resp message.Response) message.Response {
	t.Helper()
	if resp.Complete {
		h.state.Reset()
	}
	if err := h.state.Check(); err != nil {
		t.Fatalf("state invariant: %v", err)
	}
	return resp
}

func (h *harness) transactions() []ledger.Transaction {
	return ledger.All(h.ledger)
}

// fund swaps in a stub whose demo accounts all hold balance, keeping balance
// checks out of the way of amount validation.
func (h *harness) fund(balance int64) {
	accounts := make([]gateway.StubAccount, len(gateway.DemoAccounts))
	copy(accounts, gateway.DemoAccounts)
	for i := range accounts {
		accounts[i].Balance = balance
	}
	h.stub = gateway.NewStub(0, accounts...)
	h.gw.Gateway = h.stub
}
