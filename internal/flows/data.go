package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/message"
)

type dataFlow struct {
	*base
}

func (f *dataFlow) ID() string { return BuyData }

func (f *dataFlow) Start(_ context.Context, t *Turn) (message.Response, error) {
	t.State.Step = stepSelectRecipient
	return recipientButtons("Buy Data Bundle", "Who would you like to buy data for?"), nil
}

func (f *dataFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	switch t.State.Step {
	case stepSelectRecipient:
		return f.selectRecipient(ctx, t)
	case stepEnterPhone:
		return f.enterPhone(ctx, t)
	case stepSelectBundle:
		return f.selectBundle(ctx, t)
	case stepConfirm:
		return f.confirm(ctx, t)
	case stepProcessing:
		return f.inFlight(ctx, t), nil
	default:
		return f.Start(ctx, t)
	}
}

func (f *dataFlow) selectRecipient(ctx context.Context, t *Turn) (message.Response, error) {
	switch choice(t.Event) {
	case "SELF", "1":
		if err := t.State.Data.Put("recipient", t.User.Phone); err != nil {
			return message.Response{}, err
		}
		return f.showBundles(ctx, t)
	case "OTHER", "2":
		t.State.Step = stepEnterPhone
		t.State.AwaitingInput = conversation.AwaitingPhone
		return message.Text("*Buy Data - Other Number*\n\nEnter the phone number:"), nil
	}
	return message.Text("Please select My Number or Another Number."), nil
}

func (f *dataFlow) enterPhone(ctx context.Context, t *Turn) (message.Response, error) {
	phone, ok := normalizePhone(t.Event.Input())
	if !ok {
		return message.Text("Invalid phone number. Please enter a valid number:"), nil
	}
	if err := t.State.Data.Put("recipient", phone); err != nil {
		return message.Response{}, err
	}
	return f.showBundles(ctx, t)
}

// showBundles fetches the catalogue and caches it in flow data; only bundles
// from this cached list can be selected.
func (f *dataFlow) showBundles(ctx context.Context, t *Turn) (message.Response, error) {
	callCtx, cancel := f.gatewayCtx(ctx)
	bundles, err := f.Gateway.DataBundles(callCtx)
	cancel()
	if err != nil {
		return f.unavailable(ctx, t, "load data bundles", err), nil
	}
	if err := t.State.Data.Put("bundles", bundles); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepSelectBundle
	t.State.AwaitingInput = conversation.AwaitingText

	rows := make([]message.Row, 0, len(bundles))
	for _, b := range bundles {
		rows = append(rows, message.Row{ID: b.Code, Title: b.Name, Description: f.money(b.Price) + " - " + b.Validity})
	}
	return message.List("Select Data Bundle", "Choose a data bundle:", "View Bundles",
		message.Section{Title: "Data Bundles", Rows: rows}), nil
}

func (f *dataFlow) cachedBundles(t *Turn) ([]gateway.Bundle, error) {
	var bundles []gateway.Bundle
	if _, err := t.State.Data.Get("bundles", &bundles); err != nil {
		return nil, err
	}
	return bundles, nil
}

func findBundle(bundles []gateway.Bundle, input string) (gateway.Bundle, bool) {
	for _, b := range bundles {
		if strings.EqualFold(b.Code, input) {
			return b, true
		}
	}
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(bundles) {
		return bundles[n-1], true
	}
	return gateway.Bundle{}, false
}

func (f *dataFlow) selectBundle(ctx context.Context, t *Turn) (message.Response, error) {
	bundles, err := f.cachedBundles(t)
	if err != nil {
		return message.Response{}, err
	}
	bundle, ok := findBundle(bundles, t.Event.Input())
	if !ok {
		return message.Text("Invalid selection. Please select a bundle from the list."), nil
	}

	available, err := f.availableBalance(ctx, t)
	if err != nil {
		return f.unavailable(ctx, t, "check your balance", err), nil
	}
	if bundle.Price > available {
		return message.Text(fmt.Sprintf("Insufficient balance. Your available balance is %s.\n\nPlease select a smaller bundle.", f.money(available))), nil
	}

	if err := t.State.Data.Put("bundle", bundle); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepConfirm
	t.State.AwaitingInput = conversation.AwaitingConfirmation

	recipient := t.State.Data.String("recipient")
	label := maskPhone(recipient)
	if recipient == t.User.Phone {
		label = "My Number"
	}
	return message.Confirmation(fmt.Sprintf("*Confirm Data Purchase*\n\nBundle: %s\nRecipient: %s\nPrice: %s\nValidity: %s\n\nConfirm?",
		bundle.Name, label, f.money(bundle.Price), bundle.Validity)), nil
}

func (f *dataFlow) confirm(ctx context.Context, t *Turn) (message.Response, error) {
	if !confirmed(t.Event) {
		return message.Complete("Purchase cancelled."), nil
	}
	var bundle gateway.Bundle
	ok, err := t.State.Data.Get("bundle", &bundle)
	if err != nil {
		return message.Response{}, err
	}
	if !ok {
		return message.Response{}, errors.New("data flow: selected bundle missing")
	}
	recipient := t.State.Data.String("recipient")

	tx := ledger.Transaction{
		Reference:      ledger.NewReference("DAT"),
		Type:           ledger.TypeDataBundle,
		Amount:         bundle.Price,
		RecipientPhone: recipient,
		ProductCode:    bundle.Code,
		Description:    bundle.Name + " purchase",
	}
	settled, res, err := f.execute(ctx, t, tx, func(ctx context.Context, ref string) (gateway.Result, error) {
		return f.Gateway.BuyDataBundle(ctx, gateway.DataBundleRequest{
			AccountID:  t.User.WalletAccountID,
			Recipient:  recipient,
			BundleCode: bundle.Code,
			Amount:     bundle.Price,
			Reference:  ref,
		})
	})
	if err != nil {
		return message.Response{}, err
	}
	if !res.Success {
		return message.Complete(failureText("Purchase Failed", res.Reason, "Unable to buy the bundle.")), nil
	}
	return message.Complete(fmt.Sprintf("*Purchase Successful*\n\n%s activated.\n\nRef: %s\nBalance: %s",
		bundle.Name, settled.Reference, f.money(res.NewBalance))), nil
}
