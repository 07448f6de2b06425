package flows

import (
	"context"
	"fmt"

	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/message"
)

const (
	airtimeMin = 5_00
	airtimeMax = 5_000_00
)

type airtimeFlow struct {
	*base
}

func (f *airtimeFlow) ID() string { return BuyAirtime }

func recipientButtons(header, text string) message.Response {
	return message.Buttons(header, text, "Reply CANCEL to go back",
		message.Button{ID: "SELF", Title: "My Number"},
		message.Button{ID: "OTHER", Title: "Another Number"},
	)
}

func (f *airtimeFlow) Start(_ context.Context, t *Turn) (message.Response, error) {
	t.State.Step = stepSelectRecipient
	return recipientButtons("Buy Airtime", "Who would you like to buy airtime for?"), nil
}

func (f *airtimeFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	switch t.State.Step {
	case stepSelectRecipient:
		return f.selectRecipient(t)
	case stepEnterPhone:
		return f.enterPhone(t)
	case stepEnterAmount:
		return f.enterAmount(t)
	case stepConfirm:
		return f.confirm(ctx, t)
	case stepProcessing:
		return f.inFlight(ctx, t), nil
	default:
		return f.Start(ctx, t)
	}
}

func (f *airtimeFlow) amountPrompt(who string) string {
	return fmt.Sprintf("*Buy Airtime - %s*\n\nEnter the amount you want to buy (%s - %s):\n\nExample: 50",
		who, f.money(airtimeMin), f.money(airtimeMax))
}

func (f *airtimeFlow) selectRecipient(t *Turn) (message.Response, error) {
	switch choice(t.Event) {
	case "SELF", "1":
		if err := t.State.Data.Put("recipient", t.User.Phone); err != nil {
			return message.Response{}, err
		}
		if err := t.State.Data.Put("self", true); err != nil {
			return message.Response{}, err
		}
		t.State.Step = stepEnterAmount
		t.State.AwaitingInput = conversation.AwaitingAmount
		return message.Text(f.amountPrompt("My Number")), nil
	case "OTHER", "2":
		if err := t.State.Data.Put("self", false); err != nil {
			return message.Response{}, err
		}
		t.State.Step = stepEnterPhone
		t.State.AwaitingInput = conversation.AwaitingPhone
		return message.Text("*Buy Airtime - Other Number*\n\nEnter the phone number to buy airtime for:\n\nExample: 0811234567"), nil
	}
	return recipientButtons("", "Please select an option:"), nil
}

func (f *airtimeFlow) enterPhone(t *Turn) (message.Response, error) {
	phone, ok := normalizePhone(t.Event.Input())
	if !ok {
		return message.Text("Invalid phone number. Please enter a valid mobile number.\n\nExample: 0811234567 or 264811234567"), nil
	}
	if err := t.State.Data.Put("recipient", phone); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepEnterAmount
	t.State.AwaitingInput = conversation.AwaitingAmount
	return message.Text(f.amountPrompt(maskPhone(phone))), nil
}

func (f *airtimeFlow) recipientLabel(t *Turn) string {
	var self bool
	_, _ = t.State.Data.Get("self", &self)
	if self {
		return "your number"
	}
	return maskPhone(t.State.Data.String("recipient"))
}

func (f *airtimeFlow) enterAmount(t *Turn) (message.Response, error) {
	amount, ok := parseAmount(t.Event.Input())
	if !ok || amount < airtimeMin || amount > airtimeMax {
		return message.Text(fmt.Sprintf("Invalid amount. Please enter an amount between %s and %s.\n\nExample: 50",
			f.money(airtimeMin), f.money(airtimeMax))), nil
	}
	if err := t.State.Data.Put("amount", amount); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepConfirm
	t.State.AwaitingInput = conversation.AwaitingConfirmation
	return message.Confirmation(fmt.Sprintf("*Confirm Airtime Purchase*\n\nRecipient: %s\nAmount: %s\nFee: %s\nTotal: %s\n\nConfirm this transaction?",
		f.recipientLabel(t), f.money(amount), f.money(0), f.money(amount))), nil
}

func (f *airtimeFlow) confirm(ctx context.Context, t *Turn) (message.Response, error) {
	if !confirmed(t.Event) {
		return message.Complete("Transaction cancelled."), nil
	}
	amount := t.State.Data.Int64("amount")
	recipient := t.State.Data.String("recipient")
	label := f.recipientLabel(t)

	txType := ledger.TypeAirtimeOther
	if recipient == t.User.Phone {
		txType = ledger.TypeAirtimeSelf
	}
	tx := ledger.Transaction{
		Reference:      ledger.NewReference("AIR"),
		Type:           txType,
		Amount:         amount,
		RecipientPhone: recipient,
		Description:    "Airtime purchase for " + label,
	}
	settled, res, err := f.execute(ctx, t, tx, func(ctx context.Context, ref string) (gateway.Result, error) {
		return f.Gateway.BuyAirtime(ctx, gateway.AirtimeRequest{
			AccountID: t.User.WalletAccountID,
			Recipient: recipient,
			Amount:    amount,
			Reference: ref,
		})
	})
	if err != nil {
		return message.Response{}, err
	}
	if !res.Success {
		return message.Complete(failureText("Transaction Failed", res.Reason, "Unable to process airtime purchase.")), nil
	}
	return message.Complete(fmt.Sprintf("*Transaction Successful*\n\n%s airtime sent to %s.\n\nReference: %s\nNew Balance: %s",
		f.money(amount), label, settled.Reference, f.money(res.NewBalance))), nil
}
