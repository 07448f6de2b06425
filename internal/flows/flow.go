// Package flows holds the guided multi-step conversations. Each flow is a
// closed set of steps dispatched on conversation.State.Step.
package flows

import (
	"context"
	"log/slog"
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
	"github.com/congo-pay/chatwallet/internal/metrics"
	"github.com/congo-pay/chatwallet/internal/session"
	"github.com/congo-pay/chatwallet/internal/vault"
)

// Flow identifiers.
const (
	BuyAirtime   = "BUY_AIRTIME"
	BuyData      = "BUY_DATA"
	SendMoney    = "SEND_MONEY"
	PayBill      = "PAY_BILL"
	PayMerchant  = "PAY_MERCHANT"
	CheckBalance = "CHECK_BALANCE"
	History      = "TRANSACTION_HISTORY"
	InstantLoan  = "INSTANT_LOAN"
	Savings      = "SAVINGS"
	Insurance    = "INSURANCE"
	Registration = "REGISTRATION"
)

// Steps. Each flow uses a fixed subset; anything else restarts the flow.
const (
	stepSelectRecipient = "SELECT_RECIPIENT"
	stepEnterPhone      = "ENTER_PHONE"
	stepEnterRecipient  = "ENTER_RECIPIENT"
	stepEnterAmount     = "ENTER_AMOUNT"
	stepSelectBundle    = "SELECT_BUNDLE"
	stepSelectBiller    = "SELECT_BILLER"
	stepEnterAccount    = "ENTER_ACCOUNT"
	stepSelectAction    = "SELECT_ACTION"
	stepSelectProduct   = "SELECT_PRODUCT"
	stepConfirm         = "CONFIRM"
	stepProcessing      = "PROCESSING"

	stepFirstName  = "FIRST_NAME"
	stepLastName   = "LAST_NAME"
	stepIDNumber   = "ID_NUMBER"
	stepCreatePIN  = "CREATE_PIN"
	stepConfirmPIN = "CONFIRM_PIN"
	stepVerifyOTP  = "VERIFY_OTP"
)

// Turn is one inbound message being handled for a user. Flows mutate User and
// State in place; the engine persists them afterwards.
type Turn struct {
	User       *identity.User
	State      *conversation.State
	Session    session.Session
	Event      message.Event
	checkpoint func(context.Context) error
}

// NewTurn builds a turn. checkpoint persists State mid-turn and may be nil.
func NewTurn(user *identity.User, state *conversation.State, sess session.Session, ev message.Event, checkpoint func(context.Context) error) *Turn {
	return &Turn{User: user, State: state, Session: sess, Event: ev, checkpoint: checkpoint}
}

// Checkpoint saves the current state before an irreversible external call.
func (t *Turn) Checkpoint(ctx context.Context) error {
	if t.checkpoint == nil {
		return nil
	}
	return t.checkpoint(ctx)
}

// Flow is a guided conversation.
type Flow interface {
	ID() string
	// Start sets the first step and returns its prompt. The engine has
	// already cleared flow data.
	Start(ctx context.Context, t *Turn) (message.Response, error)
	// Process handles input for the current step.
	Process(ctx context.Context, t *Turn) (message.Response, error)
}

// Deps are shared by all flows.
type Deps struct {
	Gateway        gateway.Gateway
	Ledger         ledger.Ledger
	Auth           *auth.Service
	Users          *identity.Service
	Vault          *vault.Vault
	Audit          audit.Recorder
	Events         events.Publisher
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Catalog        config.Catalog
	Currency       string
	GatewayTimeout time.Duration
}

// Registry maps flow ids to implementations.
type Registry map[string]Flow

// NewRegistry wires every flow against deps.
func NewRegistry(deps Deps) Registry {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Currency == "" {
		deps.Currency = "NAD"
	}
	if deps.GatewayTimeout <= 0 {
		deps.GatewayTimeout = 30 * time.Second
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewLogRecorder(deps.Logger)
	}
	if deps.Events == nil {
		deps.Events = events.NewLogPublisher(deps.Logger)
	}
	b := &base{Deps: deps, now: time.Now}
	return Registry{
		BuyAirtime:   &airtimeFlow{base: b},
		BuyData:      &dataFlow{base: b},
		SendMoney:    &sendMoneyFlow{base: b},
		PayBill:      &billFlow{base: b, kind: billerKind(deps.Catalog)},
		PayMerchant:  &billFlow{base: b, kind: merchantKind(deps.Catalog)},
		CheckBalance: &balanceFlow{base: b},
		History:      &historyFlow{base: b},
		InstantLoan:  &loanFlow{base: b},
		Savings:      &savingsFlow{base: b},
		Insurance:    &insuranceFlow{base: b},
		Registration: &registrationFlow{base: b},
	}
}

// Get returns the flow registered under id.
func (r Registry) Get(id string) (Flow, bool) {
	f, ok := r[id]
	return f, ok
}
