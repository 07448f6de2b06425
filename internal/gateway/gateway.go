package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps transport-level failures talking to the wallet backend.
var ErrUnavailable = errors.New("wallet gateway unavailable")

// Gateway is the external wallet backend. Mutating calls report business
// failures through Result.Success and Result.Reason; a returned error means
// the call itself did not complete (timeout, transport, decoding).
type Gateway interface {
	CheckAccount(ctx context.Context, phone string) (Account, error)
	VerifyPIN(ctx context.Context, accountID, pin string) (bool, error)
	Balance(ctx context.Context, accountID string) (Balance, error)
	History(ctx context.Context, accountID string, limit int) ([]HistoryEntry, error)
	Transfer(ctx context.Context, req TransferRequest) (Result, error)
	BuyAirtime(ctx context.Context, req AirtimeRequest) (Result, error)
	BuyDataBundle(ctx context.Context, req DataBundleRequest) (Result, error)
	PayBill(ctx context.Context, req BillRequest) (Result, error)
	LoanEligibility(ctx context.Context, accountID string) (LoanEligibility, error)
	ApplyLoan(ctx context.Context, req LoanRequest) (LoanResult, error)
	Register(ctx context.Context, p Profile) (Registration, error)
	DataBundles(ctx context.Context) ([]Bundle, error)
}

// Account is the lookup result for a phone number.
type Account struct {
	Exists    bool
	AccountID string
	FirstName string
	LastName  string
}

// Balance amounts are minor units.
type Balance struct {
	Balance   int64
	Available int64
	Savings   int64
	Currency  string
}

// HistoryEntry is one row of the backend statement.
type HistoryEntry struct {
	Reference   string
	Type        string
	Amount      int64
	Status      string
	Description string
	Date        time.Time
}

// Result is the outcome of a mutating call.
type Result struct {
	Success       bool
	Reference     string
	NewBalance    int64
	RecipientName string
	Token         string
	Reason        string
}

// TransferRequest moves money to another wallet.
type TransferRequest struct {
	AccountID      string
	RecipientPhone string
	Amount         int64
	Reference      string
}

// AirtimeRequest tops up a phone.
type AirtimeRequest struct {
	AccountID string
	Recipient string
	Amount    int64
	Reference string
}

// DataBundleRequest buys a bundle for a phone.
type DataBundleRequest struct {
	AccountID  string
	Recipient  string
	BundleCode string
	Amount     int64
	Reference  string
}

// BillRequest pays a biller or merchant.
type BillRequest struct {
	AccountID       string
	BillerCode      string
	CustomerAccount string
	Amount          int64
	Reference       string
}

// LoanEligibility describes what the account may borrow.
type LoanEligibility struct {
	Eligible     bool
	MaxAmount    int64
	InterestRate float64 // percent
}

// LoanRequest asks for an instant loan.
type LoanRequest struct {
	AccountID string
	Amount    int64
	Reference string
}

// LoanResult is the outcome of ApplyLoan.
type LoanResult struct {
	Success        bool
	Reference      string
	ApprovedAmount int64
	TotalRepayment int64
	DueDate        time.Time
	Reason         string
}

// Profile is the registration payload.
type Profile struct {
	Phone     string
	FirstName string
	LastName  string
	IDNumber  string
	PIN       string
}

// Registration is the outcome of Register.
type Registration struct {
	Success   bool
	AccountID string
	Reason    string
}

// Bundle is a purchasable data product.
type Bundle struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Validity string `json:"validity"`
}
