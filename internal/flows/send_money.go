package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/message"
)

const (
	transferMin = 1_00
	transferMax = 25_000_00
)

type sendMoneyFlow struct {
	*base
}

func (f *sendMoneyFlow) ID() string { return SendMoney }

func (f *sendMoneyFlow) Start(_ context.Context, t *Turn) (message.Response, error) {
	t.State.Step = stepEnterRecipient
	t.State.AwaitingInput = conversation.AwaitingPhone
	return message.Text("*Send Money*\n\nEnter the recipient's phone number:\n\nExample: 0811234567"), nil
}

func (f *sendMoneyFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	switch t.State.Step {
	case stepEnterRecipient:
		return f.enterRecipient(ctx, t)
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

func (f *sendMoneyFlow) enterRecipient(ctx context.Context, t *Turn) (message.Response, error) {
	phone, ok := normalizePhone(t.Event.Input())
	if !ok {
		return message.Text("Invalid phone number. Please enter a valid mobile number.\n\nExample: 0811234567"), nil
	}
	if own, _ := normalizePhone(t.User.Phone); phone == own || phone == t.User.Phone {
		return message.Text("You cannot send money to yourself. Please enter a different number."), nil
	}

	callCtx, cancel := f.gatewayCtx(ctx)
	acc, err := f.Gateway.CheckAccount(callCtx, phone)
	cancel()
	if err != nil {
		return f.unavailable(ctx, t, "verify the recipient", err), nil
	}
	if !acc.Exists {
		return message.Text("This number does not have a wallet account. The recipient needs a wallet to receive money.\n\nPlease enter a different number:"), nil
	}

	if err := t.State.Data.Put("recipient", phone); err != nil {
		return message.Response{}, err
	}
	if err := t.State.Data.Put("recipientName", strings.TrimSpace(acc.FirstName+" "+acc.LastName)); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepEnterAmount
	t.State.AwaitingInput = conversation.AwaitingAmount
	return message.Text(fmt.Sprintf("*Send Money to %s*\n\nEnter the amount to send (%s - %s):\n\nExample: 100",
		maskPhone(phone), f.money(transferMin), f.money(transferMax))), nil
}

func (f *sendMoneyFlow) enterAmount(ctx context.Context, t *Turn) (message.Response, error) {
	amount, ok := parseAmount(t.Event.Input())
	if !ok || amount < transferMin || amount > transferMax {
		return message.Text(fmt.Sprintf("Invalid amount. Please enter an amount between %s and %s.\n\nExample: 100",
			f.money(transferMin), f.money(transferMax))), nil
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
	return message.Confirmation(fmt.Sprintf("*Confirm Money Transfer*\n\nRecipient: %s\nAmount: %s\nFee: %s\nTotal: %s\n\nConfirm this transfer?",
		f.recipientLabel(t), f.money(amount), f.money(0), f.money(amount))), nil
}

func (f *sendMoneyFlow) recipientLabel(t *Turn) string {
	masked := maskPhone(t.State.Data.String("recipient"))
	if name := t.State.Data.String("recipientName"); name != "" {
		return name + " (" + masked + ")"
	}
	return masked
}

func (f *sendMoneyFlow) confirm(ctx context.Context, t *Turn) (message.Response, error) {
	if !confirmed(t.Event) {
		return message.Complete("Transfer cancelled."), nil
	}
	amount := t.State.Data.Int64("amount")
	recipient := t.State.Data.String("recipient")
	label := f.recipientLabel(t)

	tx := ledger.Transaction{
		Reference:      ledger.NewReference("P2P"),
		Type:           ledger.TypeP2PTransfer,
		Amount:         amount,
		RecipientPhone: recipient,
		RecipientName:  t.State.Data.String("recipientName"),
		Description:    "Transfer to " + maskPhone(recipient),
	}
	settled, res, err := f.execute(ctx, t, tx, func(ctx context.Context, ref string) (gateway.Result, error) {
		return f.Gateway.Transfer(ctx, gateway.TransferRequest{
			AccountID:      t.User.WalletAccountID,
			RecipientPhone: recipient,
			Amount:         amount,
			Reference:      ref,
		})
	})
	if err != nil {
		return message.Response{}, err
	}
	if !res.Success {
		return message.Complete(failureText("Transfer Failed", res.Reason, "Unable to complete transfer.")), nil
	}
	if res.RecipientName != "" {
		label = res.RecipientName
	}
	return message.Complete(fmt.Sprintf("*Transfer Successful*\n\n%s sent to %s.\n\nReference: %s\nNew Balance: %s",
		f.money(amount), label, settled.Reference, f.money(res.NewBalance))), nil
}
