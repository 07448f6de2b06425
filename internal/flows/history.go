package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/congo-pay/chatwallet/internal/message"
)

type historyFlow struct {
	*base
}

func (f *historyFlow) ID() string { return History }

func (f *historyFlow) Start(ctx context.Context, t *Turn) (message.Response, error) {
	callCtx, cancel := f.gatewayCtx(ctx)
	entries, err := f.Gateway.History(callCtx, t.User.WalletAccountID, 5)
	cancel()
	if err != nil {
		return f.unavailable(ctx, t, "retrieve your transactions", err), nil
	}
	if len(entries) == 0 {
		return message.Complete("*Recent Transactions*\n\nNo transactions found."), nil
	}
	var b strings.Builder
	b.WriteString("*Recent Transactions*\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "\n%d. %s\n   %s | %s | %s", i+1, e.Description, f.money(e.Amount), e.Status, e.Date.Format("02 Jan 15:04"))
	}
	return message.Complete(b.String()), nil
}

func (f *historyFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	return f.Start(ctx, t)
}
