package flows

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/congo-pay/chatwallet/internal/audit"
	"github.com/congo-pay/chatwallet/internal/events"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/message"
)

var (
	amountPattern = regexp.MustCompile(`[\d,]+\.?\d*`)
	phonePattern  = regexp.MustCompile(`^(264|0)?(81|85)\d{7}$`)
	phoneCleaner  = strings.NewReplacer(" ", "", "-", "", "+", "", "(", "", ")", "")
)

// parseAmount extracts the first number in s as minor units. Fractions beyond
// two digits are truncated. A signed number is rejected.
func parseAmount(s string) (int64, bool) {
	loc := amountPattern.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	if loc[0] > 0 && s[loc[0]-1] == '-' {
		return 0, false
	}
	raw := strings.ReplaceAll(s[loc[0]:loc[1]], ",", "")
	whole, frac, _ := strings.Cut(raw, ".")
	if whole == "" {
		return 0, false
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > 1_000_000_000 {
		return 0, false
	}
	frac = (frac + "00")[:2]
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, false
	}
	amount := units*100 + cents
	return amount, amount > 0
}

func money(currency string, minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, minor/100, minor%100)
}

// normalizePhone validates a local mobile number and returns it as 264XXXXXXXXX.
func normalizePhone(s string) (string, bool) {
	p := phoneCleaner.Replace(strings.TrimSpace(s))
	if !phonePattern.MatchString(p) {
		return "", false
	}
	switch {
	case strings.HasPrefix(p, "264"):
		return p, true
	case strings.HasPrefix(p, "0"):
		return "264" + p[1:], true
	default:
		return "264" + p, true
	}
}

func maskPhone(p string) string {
	if len(p) < 10 {
		return "****"
	}
	return p[:3] + "****" + p[len(p)-4:]
}

func confirmed(ev message.Event) bool {
	if ev.Type == message.TypeButton || ev.Type == message.TypeListReply {
		return ev.SelectionID == "CONFIRM_YES"
	}
	switch strings.ToLower(strings.TrimSpace(ev.Text)) {
	case "yes", "y", "1":
		return true
	}
	return false
}

func choice(ev message.Event) string {
	return strings.ToUpper(ev.Input())
}

// base carries the shared collaborators and helpers of every flow.
type base struct {
	Deps
	now func() time.Time
}

func (b *base) money(minor int64) string {
	return money(b.Currency, minor)
}

func (b *base) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.GatewayTimeout)
}

// unavailable logs a failed read and returns a terminal notice.
func (b *base) unavailable(ctx context.Context, t *Turn, what string, err error) message.Response {
	logging.From(ctx, b.Logger).Warn("gateway read failed", "flow", t.State.Flow, "step", t.State.Step, "call", what, "error", err)
	return message.Complete(fmt.Sprintf("Unable to %s right now. Please try again later.", what))
}

// inFlight answers a message that arrives while a transaction is PROCESSING.
// The stored reference is looked up so the user learns the real outcome.
func (b *base) inFlight(ctx context.Context, t *Turn) message.Response {
	const pending = "This transaction is already being processed. Check your transaction history for the outcome."
	ref := t.State.Data.String(referenceKey)
	if ref == "" {
		return message.Complete(pending)
	}
	tx, err := b.Ledger.Get(ctx, ref)
	if err != nil {
		logging.From(ctx, b.Logger).Warn("in-flight lookup failed", "reference", ref, "error", err)
		return message.Complete(pending + "\n\nReference: " + ref)
	}
	switch tx.Status {
	case ledger.StatusCompleted:
		return message.Complete(fmt.Sprintf("*Transaction Successful*\n\n%s of %s completed.\n\nReference: %s",
			tx.Description, b.money(tx.Amount), tx.Reference))
	case ledger.StatusFailed, ledger.StatusCancelled:
		return message.Complete(failureText("Transaction Failed", tx.FailureReason, "The transaction could not be completed.") +
			"\n\nReference: " + tx.Reference)
	}
	return message.Complete(pending + "\n\nReference: " + tx.Reference)
}

// referenceKey holds the ledger reference of the transaction in flight.
const referenceKey = "reference"

// execute records tx as PENDING, runs call against the gateway and settles
// the record. The reference is stored and state moves to PROCESSING, then is
// checkpointed before the call so that a crash cannot replay it. A failure
// before the call leaves the flow at its confirm step. Gateway errors settle
// as FAILED and are reported through the returned result, not as errors.
func (b *base) execute(ctx context.Context, t *Turn, tx ledger.Transaction, call func(ctx context.Context, ref string) (gateway.Result, error)) (ledger.Transaction, gateway.Result, error) {
	tx.UserID = t.User.ID
	tx.Status = ledger.StatusPending
	tx.Currency = b.Currency
	if err := b.Ledger.Create(ctx, tx); err != nil {
		return ledger.Transaction{}, gateway.Result{}, fmt.Errorf("record transaction: %w", err)
	}

	step, awaiting := t.State.Step, t.State.AwaitingInput
	if err := t.State.Data.Put(referenceKey, tx.Reference); err != nil {
		return ledger.Transaction{}, gateway.Result{}, b.abandon(ctx, tx.Reference, err)
	}
	t.State.Step = stepProcessing
	t.State.AwaitingInput = ""
	if err := t.Checkpoint(ctx); err != nil {
		t.State.Step, t.State.AwaitingInput = step, awaiting
		delete(t.State.Data, referenceKey)
		return ledger.Transaction{}, gateway.Result{}, b.abandon(ctx, tx.Reference, fmt.Errorf("checkpoint before gateway call: %w", err))
	}

	callCtx, cancel := b.gatewayCtx(ctx)
	res, callErr := call(callCtx, tx.Reference)
	cancel()

	logger := logging.From(ctx, b.Logger)
	status := ledger.StatusCompleted
	out := ledger.Outcome{ExternalReference: res.Reference, RecipientName: res.RecipientName}
	switch {
	case callErr != nil:
		status = ledger.StatusFailed
		reason := "Service temporarily unavailable"
		if errors.Is(callErr, context.DeadlineExceeded) {
			reason = "The request timed out"
		}
		logger.Error("gateway call failed", "reference", tx.Reference, "type", tx.Type, "error", callErr)
		res = gateway.Result{Success: false, Reason: reason}
		out = ledger.Outcome{FailureReason: reason}
	case !res.Success:
		status = ledger.StatusFailed
		out = ledger.Outcome{FailureReason: res.Reason}
	}

	settled, err := b.Ledger.Transition(ctx, tx.Reference, status, out)
	if err != nil {
		return ledger.Transaction{}, gateway.Result{}, fmt.Errorf("settle transaction %s: %w", tx.Reference, err)
	}

	b.Metrics.Transaction(string(settled.Type), string(settled.Status))
	b.Audit.Record(ctx, audit.Entry{
		UserID:   t.User.ID,
		Action:   string(settled.Type),
		Category: audit.CategoryTransaction,
		Success:  status == ledger.StatusCompleted,
		Details: map[string]string{
			"reference": settled.Reference,
			"amount":    strconv.FormatInt(settled.Amount, 10),
			"status":    string(settled.Status),
		},
	})
	subject := events.TransactionCompleted
	if status != ledger.StatusCompleted {
		subject = events.TransactionFailed
	}
	err = b.Events.Publish(ctx, subject, events.TransactionEvent{
		Reference:         settled.Reference,
		ExternalReference: settled.ExternalReference,
		UserID:            settled.UserID,
		Type:              string(settled.Type),
		Status:            string(settled.Status),
		Amount:            settled.Amount,
		Currency:          settled.Currency,
		FailureReason:     settled.FailureReason,
		OccurredAt:        b.now().UTC(),
	})
	if err != nil {
		logger.Warn("publish transaction event", "reference", settled.Reference, "error", err)
	}
	return settled, res, nil
}

// abandon fails a PENDING record whose gateway call never ran.
func (b *base) abandon(ctx context.Context, ref string, cause error) error {
	if _, err := b.Ledger.Transition(ctx, ref, ledger.StatusFailed, ledger.Outcome{FailureReason: "Transaction was not submitted"}); err != nil {
		logging.From(ctx, b.Logger).Error("abandon transaction", "reference", ref, "error", err)
	}
	return cause
}

// availableBalance reads the spendable balance for the turn's user.
func (b *base) availableBalance(ctx context.Context, t *Turn) (int64, error) {
	callCtx, cancel := b.gatewayCtx(ctx)
	defer cancel()
	bal, err := b.Gateway.Balance(callCtx, t.User.WalletAccountID)
	if err != nil {
		return 0, err
	}
	return bal.Available, nil
}

func failureText(title, reason, fallback string) string {
	if reason == "" {
		reason = fallback
	}
	return fmt.Sprintf("*%s*\n\n%s\n\nPlease try again later.", title, reason)
}
