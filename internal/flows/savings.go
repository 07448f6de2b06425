package flows

import (
	"context"
	"fmt"

	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/message"
)

type savingsFlow struct {
	*base
}

func (f *savingsFlow) ID() string { return Savings }

func (f *savingsFlow) Start(ctx context.Context, t *Turn) (message.Response, error) {
	callCtx, cancel := f.gatewayCtx(ctx)
	bal, err := f.Gateway.Balance(callCtx, t.User.WalletAccountID)
	cancel()
	if err != nil {
		return f.unavailable(ctx, t, "load your savings", err), nil
	}
	t.State.Step = stepSelectAction
	buttons := make([]message.Button, 0, len(f.Catalog.SavingsAction))
	for _, opt := range f.Catalog.SavingsAction {
		buttons = append(buttons, message.Button{ID: opt.ID, Title: opt.Title})
	}
	return message.Buttons("Savings", fmt.Sprintf("Savings Balance: %s\n\nWhat would you like to do?", f.money(bal.Savings)),
		"Reply CANCEL to go back", buttons...), nil
}

func (f *savingsFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	if t.State.Step != stepSelectAction {
		return f.Start(ctx, t)
	}
	opt, ok := config.Find(f.Catalog.SavingsAction, choice(t.Event))
	if !ok {
		return message.Text("Please select an option from the list."), nil
	}
	switch opt.ID {
	case "DEPOSIT":
		return message.Complete("*Savings Deposit*\n\nSavings deposits are coming soon."), nil
	case "WITHDRAW":
		return message.Complete("*Savings Withdrawal*\n\nSavings withdrawals are coming soon."), nil
	case "HISTORY":
		return message.Complete("*Savings History*\n\nNo savings transactions found."), nil
	}
	return message.Complete(fmt.Sprintf("*%s*\n\nThis option is coming soon.", opt.Title)), nil
}
