package flows

import (
	"regexp"
	"strings"
	"testing"

	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/message"
)

var tokenPattern = regexp.MustCompile(`Token: \d{20}`)

func TestBillPaymentWithToken(t *testing.T) {
	h := newHarness(t, demoPhone)
	resp := h.start(t, PayBill)
	if resp.Kind != message.KindList {
		t.Fatalf("expected biller list, got %s", resp.Kind)
	}

	resp = h.say(t, "WATERWORKS")
	if !strings.Contains(resp.Text, "Invalid selection") {
		t.Fatalf("unknown biller accepted: %q", resp.Text)
	}
	resp = h.send(t, message.Event{MessageID: "m", Type: message.TypeListReply, SelectionID: "ELECTRICITY"})
	if !strings.Contains(resp.Text, "meter number") {
		t.Fatalf("expected meter prompt, got %q", resp.Text)
	}

	resp = h.say(t, "1234")
	if !strings.Contains(resp.Text, "Invalid account number") || h.state.Step != stepEnterAccount {
		t.Fatalf("short account accepted: %q", resp.Text)
	}
	h.say(t, "04123456789")
	if h.state.Step != stepEnterAmount {
		t.Fatalf("expected amount step, got %s", h.state.Step)
	}

	resp = h.say(t, "9.99")
	if !strings.Contains(resp.Text, "Invalid amount") {
		t.Fatalf("below minimum accepted: %q", resp.Text)
	}
	h.say(t, "150")
	resp = h.say(t, "yes")
	if !resp.Complete || !tokenPattern.MatchString(resp.Text) {
		t.Fatalf("expected token in %q", resp.Text)
	}
	txs := h.transactions()
	if len(txs) != 1 || txs[0].Type != ledger.TypeBillPayment || txs[0].BillerAccount != "04123456789" || !strings.HasPrefix(txs[0].Reference, "BIL") {
		t.Fatalf("unexpected transactions %+v", txs)
	}
}

func TestMerchantPaymentUsesMerchantType(t *testing.T) {
	h := newHarness(t, demoPhone)
	h.start(t, PayMerchant)
	resp := h.say(t, "1")
	if !strings.Contains(resp.Text, "Shoprite") || !strings.Contains(resp.Text, "till number") {
		t.Fatalf("unexpected prompt %q", resp.Text)
	}
	h.say(t, "TILL-0042")
	h.say(t, "75.50")
	h.say(t, "1")

	txs := h.transactions()
	if len(txs) != 1 || txs[0].Type != ledger.TypeMerchantPayment || txs[0].Amount != 75_50 || !strings.HasPrefix(txs[0].Reference, "MER") {
		t.Fatalf("unexpected transactions %+v", txs)
	}
}

func TestBillAndMerchantAmountBounds(t *testing.T) {
	cases := []struct {
		amount string
		accept bool
	}{
		{"9.99", false},
		{"10.00", true},
		{"50000.00", true},
		{"50000.01", false},
	}
	reach := map[string]func(h *harness){
		PayBill: func(h *harness) {
			h.send(t, message.Event{MessageID: "m", Type: message.TypeListReply, SelectionID: "ELECTRICITY"})
			h.say(t, "04123456789")
		},
		PayMerchant: func(h *harness) {
			h.say(t, "1")
			h.say(t, "TILL-0042")
		},
	}
	for flow, toAmount := range reach {
		for _, tc := range cases {
			h := newHarness(t, demoPhone)
			h.fund(100_000_00)
			h.start(t, flow)
			toAmount(h)
			if h.state.Step != stepEnterAmount {
				t.Fatalf("%s: expected amount step, got %s", flow, h.state.Step)
			}
			resp := h.say(t, tc.amount)

			accepted := h.state.Step == stepConfirm
			if accepted != tc.accept {
				t.Fatalf("%s amount %s: accepted=%v want %v (%q)", flow, tc.amount, accepted, tc.accept, resp.Text)
			}
			if !accepted && !strings.Contains(resp.Text, "Invalid amount") {
				t.Fatalf("%s amount %s: expected re-prompt, got %q", flow, tc.amount, resp.Text)
			}
		}
	}
}
