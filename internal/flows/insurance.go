package flows

import (
	"context"
	"fmt"

	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/message"
)

type insuranceFlow struct {
	*base
}

func (f *insuranceFlow) ID() string { return Insurance }

func (f *insuranceFlow) Start(_ context.Context, t *Turn) (message.Response, error) {
	t.State.Step = stepSelectProduct
	rows := make([]message.Row, 0, len(f.Catalog.Insurance))
	for _, opt := range f.Catalog.Insurance {
		rows = append(rows, message.Row{ID: opt.ID, Title: opt.Title, Description: opt.Description})
	}
	return message.List("Insurance", "Protect yourself and your family. Choose a product:", "View Products",
		message.Section{Title: "Products", Rows: rows}), nil
}

func (f *insuranceFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	if t.State.Step != stepSelectProduct {
		return f.Start(ctx, t)
	}
	opt, ok := config.Find(f.Catalog.Insurance, choice(t.Event))
	if !ok {
		return message.Text("Invalid selection. Please select a product from the list."), nil
	}
	return message.Complete(fmt.Sprintf("*%s*\n\n%s\n\nTo subscribe, visit any branch or reply HELP for contact details.",
		opt.Title, opt.Description)), nil
}
