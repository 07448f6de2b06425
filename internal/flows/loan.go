package flows

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/message"
)

const loanMin = 50_00

type loanFlow struct {
	*base
}

func (f *loanFlow) ID() string { return InstantLoan }

func (f *loanFlow) Start(_ context.Context, t *Turn) (message.Response, error) {
	t.State.Step = stepSelectAction
	buttons := make([]message.Button, 0, len(f.Catalog.LoanActions))
	for _, opt := range f.Catalog.LoanActions {
		buttons = append(buttons, message.Button{ID: opt.ID, Title: opt.Title})
	}
	return message.Buttons("Instant Loan", "Get a quick loan deposited straight into your wallet.\n\nWhat would you like to do?",
		"Reply CANCEL to go back", buttons...), nil
}

func (f *loanFlow) Process(ctx context.Context, t *Turn) (message.Response, error) {
	switch t.State.Step {
	case stepSelectAction:
		return f.selectAction(ctx, t)
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

func (f *loanFlow) eligibility(ctx context.Context, t *Turn) (gateway.LoanEligibility, error) {
	callCtx, cancel := f.gatewayCtx(ctx)
	defer cancel()
	return f.Gateway.LoanEligibility(callCtx, t.User.WalletAccountID)
}

func (f *loanFlow) selectAction(ctx context.Context, t *Turn) (message.Response, error) {
	opt, ok := config.Find(f.Catalog.LoanActions, choice(t.Event))
	if !ok {
		return message.Text("Please select an option from the list."), nil
	}
	switch opt.ID {
	case "CHECK_ELIGIBILITY":
		el, err := f.eligibility(ctx, t)
		if err != nil {
			return f.unavailable(ctx, t, "check loan eligibility", err), nil
		}
		if !el.Eligible {
			return message.Complete("*Loan Eligibility*\n\nYou are not currently eligible for an instant loan. Keep using your wallet to build your limit."), nil
		}
		return message.Complete(fmt.Sprintf("*Loan Eligibility*\n\nYou qualify for up to %s at %.0f%% interest.\n\nSelect Instant Loan from the menu to apply.",
			f.money(el.MaxAmount), el.InterestRate)), nil
	case "LOAN_HISTORY":
		return f.history(ctx, t)
	case "APPLY":
		el, err := f.eligibility(ctx, t)
		if err != nil {
			return f.unavailable(ctx, t, "check loan eligibility", err), nil
		}
		if !el.Eligible || el.MaxAmount < loanMin {
			return message.Complete("*Instant Loan*\n\nYou are not currently eligible for an instant loan."), nil
		}
		if err := t.State.Data.Put("maxAmount", el.MaxAmount); err != nil {
			return message.Response{}, err
		}
		if err := t.State.Data.Put("rate", el.InterestRate); err != nil {
			return message.Response{}, err
		}
		t.State.Step = stepEnterAmount
		t.State.AwaitingInput = conversation.AwaitingAmount
		return message.Text(fmt.Sprintf("*Apply for Loan*\n\nYou qualify for up to %s.\nInterest: %.0f%%\n\nEnter the amount to borrow (%s - %s):",
			f.money(el.MaxAmount), el.InterestRate, f.money(loanMin), f.money(el.MaxAmount))), nil
	}
	return message.Text("Please select an option from the list."), nil
}

func (f *loanFlow) history(ctx context.Context, t *Turn) (message.Response, error) {
	txs, err := f.Ledger.ListByUser(ctx, t.User.ID, 50)
	if err != nil {
		return message.Response{}, fmt.Errorf("list loans: %w", err)
	}
	var b strings.Builder
	b.WriteString("*Loan History*\n")
	n := 0
	for _, tx := range txs {
		if tx.Type != ledger.TypeLoanApplication {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%d. %s - %s (%s)\n   Ref: %s", n, tx.CreatedAt.Format("02 Jan 2006"), f.money(tx.Amount), tx.Status, tx.Reference)
		if n == 5 {
			break
		}
	}
	if n == 0 {
		return message.Complete("*Loan History*\n\nYou have no loans yet."), nil
	}
	return message.Complete(b.String()), nil
}

// interest returns the interest owed on amount at a percentage rate, rounded
// to a cent.
func interest(amount int64, rate float64) int64 {
	return int64(math.Round(float64(amount) * rate / 100))
}

func (f *loanFlow) enterAmount(t *Turn) (message.Response, error) {
	limit := t.State.Data.Int64("maxAmount")
	amount, ok := parseAmount(t.Event.Input())
	if !ok || amount < loanMin || amount > limit {
		return message.Text(fmt.Sprintf("Invalid amount. Please enter an amount between %s and %s:", f.money(loanMin), f.money(limit))), nil
	}
	var rate float64
	if _, err := t.State.Data.Get("rate", &rate); err != nil {
		return message.Response{}, err
	}
	owed := interest(amount, rate)
	if err := t.State.Data.Put("amount", amount); err != nil {
		return message.Response{}, err
	}
	t.State.Step = stepConfirm
	t.State.AwaitingInput = conversation.AwaitingConfirmation
	return message.Confirmation(fmt.Sprintf("*Confirm Loan*\n\nLoan Amount: %s\nInterest (%.0f%%): %s\nTotal Repayment: %s\nRepayment Period: 30 days\n\nConfirm this loan?",
		f.money(amount), rate, f.money(owed), f.money(amount+owed))), nil
}

func (f *loanFlow) confirm(ctx context.Context, t *Turn) (message.Response, error) {
	if !confirmed(t.Event) {
		return message.Complete("Loan application cancelled."), nil
	}
	amount := t.State.Data.Int64("amount")

	var loan gateway.LoanResult
	tx := ledger.Transaction{
		Reference:   ledger.NewReference("LON"),
		Type:        ledger.TypeLoanApplication,
		Amount:      amount,
		Description: "Instant loan",
	}
	settled, res, err := f.execute(ctx, t, tx, func(ctx context.Context, ref string) (gateway.Result, error) {
		var err error
		loan, err = f.Gateway.ApplyLoan(ctx, gateway.LoanRequest{
			AccountID: t.User.WalletAccountID,
			Amount:    amount,
			Reference: ref,
		})
		if err != nil {
			return gateway.Result{}, err
		}
		return gateway.Result{Success: loan.Success, Reference: loan.Reference, Reason: loan.Reason}, nil
	})
	if err != nil {
		return message.Response{}, err
	}
	if !res.Success {
		return message.Complete(failureText("Loan Declined", res.Reason, "Your loan application could not be approved.")), nil
	}
	approved := loan.ApprovedAmount
	if approved == 0 {
		approved = amount
	}
	return message.Complete(fmt.Sprintf("*Loan Approved*\n\n%s has been deposited into your wallet.\n\nTotal Repayment: %s\nDue Date: %s\nReference: %s",
		f.money(approved), f.money(loan.TotalRepayment), loan.DueDate.Format("02 Jan 2006"), settled.Reference)), nil
}
