package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/message"
)

const (
	billMin        = 10_00
	billMax        = 50_000_00
	billAccountMin = 5
)

// payeeKind parameterizes the bill machine for billers or merchants.
type payeeKind struct {
	flowID   string
	header   string
	prompt   string
	button   string
	noun     string
	label    string
	options  []config.Option
	txType   ledger.Type
	prefix   string
	verb     string
	failWord string
}

func billerKind(cat config.Catalog) payeeKind {
	return payeeKind{
		flowID:   PayBill,
		header:   "Pay Bill",
		prompt:   "Select the service you want to pay:",
		button:   "Select Biller",
		noun:     "biller",
		label:    "Biller",
		options:  cat.Billers,
		txType:   ledger.TypeBillPayment,
		prefix:   "BIL",
		verb:     "payment",
		failWord: "Payment",
	}
}

func merchantKind(cat config.Catalog) payeeKind {
	return payeeKind{
		flowID:   PayMerchant,
		header:   "Pay Merchant",
		prompt:   "Select the merchant you want to pay:",
		button:   "Select Merchant",
		noun:     "merchant",
		label:    "Merchant",
		options:  cat.Merchants,
		txType:   ledger.TypeMerchantPayment,
		prefix:   "MER",
		verb:     "payment",
		failWord: "Payment",
	}
}

type billFlow struct {
	*base
	kind payeeKind
}

func (f *billFlow) ID() string { return f.kind.flowID }

func (f *billFlow) Start(_ context.Context, t *Turn) (message.Response, error) {
	t.State.Step = stepSelectBiller
	rows := make([]message.Row, 0, len(f.kind.options))
	for _, opt := range f.kind.options {
		rows = append(rows, message.Row{ID: opt.ID, Title: opt.Title, Description: opt.Description})
	}
	resp := message.List(f.kind.header, f.kind.prompt, f.kind.button, message.Section{Title: f.kind.header, Rows: rows})
	resp.Footer = "Reply CANCEL to go back"
	return resp, nil
}

func (f *billFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	switch t.State.Step {
	case stepSelectBiller:
		return f.selectPayee(t)
	case stepEnterAccount:
		return f.enterAccount(t)
	case stepEnterAmount:
		return f.enterAmount(ctx, t)
	case stepConfirm:
		return f.confirm(ctx, t)
	case stepProcessing:
		return f.inFlight(ctx, t), nil
	default:
		return f.Start(ctx, t)
	}
}

func (f *billFlow) selectPayee(t *Turn) (message.Response, error) {
	opt, ok := config.Find(f.kind.options, choice(t.Event))
	if !ok {
		return message.Text(fmt.Sprintf("Invalid selection. Please select a %s from the list.", f.kind.noun)), nil
	}
	if err := t.State.Data.Put("payeeCode", opt.ID); err != nil {
		return message.Response{}, err
	}
	if err := t.State.Data.Put("payeeName", opt.Title); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepEnterAccount
	t.State.AwaitingInput = conversation.AwaitingAccount

	label := "account number"
	switch {
	case opt.ID == "ELECTRICITY":
		label = "meter number"
	case f.kind.flowID == PayMerchant:
		label = "merchant or till number"
	}
	return message.Text(fmt.Sprintf("*Pay %s*\n\nEnter your %s:", opt.Title, label)), nil
}

func (f *billFlow) enterAccount(t *Turn) (message.Response, error) {
	account := strings.TrimSpace(t.Event.Input())
	if len(account) < billAccountMin {
		return message.Text("Invalid account number. Please enter a valid account number:"), nil
	}
	if err := t.State.Data.Put("account", account); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepEnterAmount
	t.State.AwaitingInput = conversation.AwaitingAmount
	return message.Text(fmt.Sprintf("*%s*\nAccount: %s\n\nEnter the amount to pay (%s - %s):",
		t.State.Data.String("payeeName"), account, f.money(billMin), f.money(billMax))), nil
}

func (f *billFlow) enterAmount(ctx context.Context, t *Turn) (message.Response, error) {
	amount, ok := parseAmount(t.Event.Input())
	if !ok || amount < billMin || amount > billMax {
		return message.Text(fmt.Sprintf("Invalid amount. Please enter an amount between %s and %s:", f.money(billMin), f.money(billMax))), nil
	}
	available, err := f.availableBalance(ctx, t)
	if err != nil {
		return f.unavailable(ctx, t, "check your balance", err), nil
	}
	if amount > available {
		return message.Text(fmt.Sprintf("Insufficient balance. Your available balance is %s.\n\nPlease enter a smaller amount:", f.money(available))), nil
	}
	if err := t.State.Data.Put("amount", amount); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepConfirm
	t.State.AwaitingInput = conversation.AwaitingConfirmation
	return message.Confirmation(fmt.Sprintf("*Confirm %s*\n\n%s: %s\nAccount: %s\nAmount: %s\nFee: %s\nTotal: %s\n\nConfirm this payment?",
		f.kind.header, f.kind.label, t.State.Data.String("payeeName"), t.State.Data.String("account"),
		f.money(amount), f.money(0), f.money(amount))), nil
}

func (f *billFlow) confirm(ctx context.Context, t *Turn) (message.Response, error) {
	if !confirmed(t.Event) {
		return message.Complete("Payment cancelled."), nil
	}
	amount := t.State.Data.Int64("amount")
	code := t.State.Data.String("payeeCode")
	name := t.State.Data.String("payeeName")
	account := t.State.Data.String("account")

	tx := ledger.Transaction{
		Reference:     ledger.NewReference(f.kind.prefix),
		Type:          f.kind.txType,
		Amount:        amount,
		BillerCode:    code,
		BillerAccount: account,
		Description:   name + " " + f.kind.verb,
	}
	settled, res, err := f.execute(ctx, t, tx, func(ctx context.Context, ref string) (gateway.Result, error) {
		return f.Gateway.PayBill(ctx, gateway.BillRequest{
			AccountID:       t.User.WalletAccountID,
			BillerCode:      code,
			CustomerAccount: account,
			Amount:          amount,
			Reference:       ref,
		})
	})
	if err != nil {
		return message.Response{}, err
	}
	if !res.Success {
		return message.Complete(failureText(f.kind.failWord+" Failed", res.Reason, "Unable to process payment.")), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Payment Successful*\n\n%s payment of %s completed.\n\nReference: %s\n", name, f.money(amount), settled.Reference)
	if res.Token != "" {
		fmt.Fprintf(&b, "Token: %s\n", res.Token)
	}
	fmt.Fprintf(&b, "New Balance: %s", f.money(res.NewBalance))
	return message.Complete(b.String()), nil
}
