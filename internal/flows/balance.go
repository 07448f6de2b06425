package flows

import (
	"context"
	"fmt"

	"github.com/congo-pay/chatwallet/internal/audit"
	"github.com/congo-pay/chatwallet/internal/message"
)

type balanceFlow struct {
	*base
}

func (f *balanceFlow) ID() string { return CheckBalance }

func (f *balanceFlow) Start(ctx context.Context, t *Turn) (message.Response, error) {
	callCtx, cancel := f.gatewayCtx(ctx)
	bal, err := f.Gateway.Balance(callCtx, t.User.WalletAccountID)
	cancel()
	if err != nil {
		return f.unavailable(ctx, t, "retrieve your balance", err), nil
	}
	f.Audit.Record(ctx, audit.Entry{
		UserID:   t.User.ID,
		Action:   "BALANCE_CHECK",
		Category: audit.CategoryAccount,
		Success:  true,
	})
	return message.Complete(fmt.Sprintf("*Account Balance*\n\nAvailable: %s\nBalance: %s\nSavings: %s\n\nAs at %s",
		f.money(bal.Available), f.money(bal.Balance), f.money(bal.Savings), f.now().Format("02 Jan 2006 15:04"))), nil
}

func (f *balanceFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	return f.Start(ctx, t)
}
