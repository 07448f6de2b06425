package flows

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/message"
)

func TestLoanAmountBounds(t *testing.T) {
	h := newHarness(t, demoPhone)
	h.start(t, InstantLoan)
	resp := h.press(t, "APPLY")
	if h.state.Step != stepEnterAmount || !strings.Contains(resp.Text, "NAD 2000.00") {
		t.Fatalf("unexpected apply prompt %q step=%s", resp.Text, h.state.Step)
	}

	for _, bad := range []string{"49.99", "2000.01"} {
		resp = h.say(t, bad)
		if !strings.Contains(resp.Text, "Invalid amount") || h.state.Step != stepEnterAmount {
			t.Fatalf("%s accepted: %q", bad, resp.Text)
		}
	}
	resp = h.say(t, "1000")
	if h.state.Step != stepConfirm || !strings.Contains(resp.Text, "Total Repayment: NAD 1100.00") {
		t.Fatalf("unexpected confirmation %q", resp.Text)
	}

	resp = h.say(t, "yes")
	if !resp.Complete || !strings.Contains(resp.Text, "Loan Approved") || !strings.Contains(resp.Text, "NAD 1100.00") {
		t.Fatalf("unexpected response %q", resp.Text)
	}
	txs := h.transactions()
	if len(txs) != 1 || txs[0].Type != ledger.TypeLoanApplication || txs[0].Status != ledger.StatusCompleted {
		t.Fatalf("unexpected transactions %+v", txs)
	}
}

func TestLoanSideActions(t *testing.T) {
	h := newHarness(t, demoPhone)
	h.start(t, InstantLoan)
	resp := h.press(t, "CHECK_ELIGIBILITY")
	if !resp.Complete || !strings.Contains(resp.Text, "up to NAD 2000.00 at 10% interest") {
		t.Fatalf("unexpected eligibility %q", resp.Text)
	}

	h.start(t, InstantLoan)
	resp = h.press(t, "LOAN_HISTORY")
	if !resp.Complete || !strings.Contains(resp.Text, "no loans yet") {
		t.Fatalf("unexpected history %q", resp.Text)
	}

	h.start(t, InstantLoan)
	h.press(t, "APPLY")
	h.say(t, "500")
	h.say(t, "yes")

	h.start(t, InstantLoan)
	resp = h.press(t, "LOAN_HISTORY")
	if !strings.Contains(resp.Text, "NAD 500.00 (COMPLETED)") {
		t.Fatalf("loan missing from history %q", resp.Text)
	}
}

func TestLoanAmountEdgesAccepted(t *testing.T) {
	for _, amount := range []string{"50.00", "2000.00"} {
		h := newHarness(t, demoPhone)
		h.start(t, InstantLoan)
		h.press(t, "APPLY")
		resp := h.say(t, amount)
		if h.state.Step != stepConfirm {
			t.Fatalf("amount %s rejected: %q", amount, resp.Text)
		}
	}
}

// oddRateGateway reports a rate that cannot be stored in flow data.
type oddRateGateway struct {
	gateway.Gateway
}

func (g oddRateGateway) LoanEligibility(ctx context.Context, accountID string) (gateway.LoanEligibility, error) {
	el, err := g.Gateway.LoanEligibility(ctx, accountID)
	el.InterestRate = math.NaN()
	return el, err
}

func TestLoanUnstorableRateSurfacesError(t *testing.T) {
	h := newHarness(t, demoPhone)
	h.gw.Gateway = oddRateGateway{Gateway: h.stub}
	h.start(t, InstantLoan)

	f, _ := h.flows.Get(InstantLoan)
	_, err := f.Process(context.Background(), h.turn(message.Event{MessageID: "m", From: demoPhone, Type: message.TypeButton, SelectionID: "APPLY"}))
	if err == nil {
		t.Fatalf("expected flow data error")
	}
	if h.state.Step == stepEnterAmount {
		t.Fatalf("flow advanced without its rate")
	}
}
