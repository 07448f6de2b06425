package gateway

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StubAccount seeds the stub backend.
type StubAccount struct {
	AccountID string
	Phone     string
	FirstName string
	LastName  string
	PIN       string
	Balance   int64
	Savings   int64
	LoanLimit int64
}

// DemoAccounts are the accounts loaded by NewDemoStub.
var DemoAccounts = []StubAccount{
	{AccountID: "MARIS001", Phone: "264811234567", FirstName: "John", LastName: "Doe", PIN: "12345", Balance: 5_000_00, Savings: 500_00, LoanLimit: 2_000_00},
	{AccountID: "MARIS002", Phone: "264815551234", FirstName: "Jane", LastName: "Smith", PIN: "54321", Balance: 12_500_00, Savings: 2_000_00, LoanLimit: 5_000_00},
}

var defaultBundles = []Bundle{
	{Code: "WB_500MB", Name: "Wizza Bazza 500MB", Price: 25_00, Validity: "24 hours"},
	{Code: "WB_1GB", Name: "Wizza Bazza 1GB", Price: 45_00, Validity: "24 hours"},
	{Code: "WB_2GB", Name: "Wizza Bazza 2GB", Price: 75_00, Validity: "3 days"},
	{Code: "MD_5GB", Name: "Mega Data 5GB", Price: 150_00, Validity: "30 days"},
	{Code: "MD_10GB", Name: "Mega Data 10GB", Price: 250_00, Validity: "30 days"},
	{Code: "MD_20GB", Name: "Mega Data 20GB", Price: 400_00, Validity: "30 days"},
}

// Stub is an in-process wallet backend with real balance arithmetic.
type Stub struct {
	mu             sync.Mutex
	accounts       map[string]*StubAccount
	byPhone        map[string]string
	history        map[string][]HistoryEntry
	openingBalance int64
	loanRate       float64
	seq            int
}

// NewStub builds an empty stub. Accounts it has never seen are provisioned on
// first use with openingBalance.
func NewStub(openingBalance int64, accounts ...StubAccount) *Stub {
	s := &Stub{
		accounts:       make(map[string]*StubAccount),
		byPhone:        make(map[string]string),
		history:        make(map[string][]HistoryEntry),
		openingBalance: openingBalance,
		loanRate:       10,
	}
	for _, acc := range accounts {
		acc := acc
		s.accounts[acc.AccountID] = &acc
		if acc.Phone != "" {
			s.byPhone[acc.Phone] = acc.AccountID
		}
	}
	return s
}

// NewDemoStub returns a stub seeded with DemoAccounts.
func NewDemoStub() *Stub {
	return NewStub(1_500_00, DemoAccounts...)
}

func (s *Stub) account(id string) *StubAccount {
	acc, ok := s.accounts[id]
	if !ok {
		acc = &StubAccount{AccountID: id, Balance: s.openingBalance}
		s.accounts[id] = acc
	}
	return acc
}

func (s *Stub) record(accountID, ref, kind, desc string, amount int64) {
	entry := HistoryEntry{Reference: ref, Type: kind, Amount: amount, Status: "COMPLETED", Description: desc, Date: time.Now().UTC()}
	s.history[accountID] = append([]HistoryEntry{entry}, s.history[accountID]...)
}

func (s *Stub) debit(accountID string, amount int64) (*StubAccount, bool) {
	acc := s.account(accountID)
	if amount <= 0 || acc.Balance < amount {
		return acc, false
	}
	acc.Balance -= amount
	return acc, true
}

func externalRef() string {
	return "MR" + uuid.NewString()[:8]
}

// CheckAccount implements Gateway.
func (s *Stub) CheckAccount(_ context.Context, phone string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return Account{}, nil
	}
	acc := s.accounts[id]
	return Account{Exists: true, AccountID: id, FirstName: acc.FirstName, LastName: acc.LastName}, nil
}

// VerifyPIN implements Gateway. Accounts without a stored PIN accept any
// well-formed PIN.
func (s *Stub) VerifyPIN(_ context.Context, accountID, pin string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(accountID)
	if acc.PIN == "" {
		return len(pin) == 5, nil
	}
	return acc.PIN == pin, nil
}

// Balance implements Gateway.
func (s *Stub) Balance(_ context.Context, accountID string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(accountID)
	return Balance{Balance: acc.Balance, Available: acc.Balance, Savings: acc.Savings, Currency: "NAD"}, nil
}

// History implements Gateway.
func (s *Stub) History(_ context.Context, accountID string, limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[accountID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]HistoryEntry(nil), entries...), nil
}

// Transfer implements Gateway.
func (s *Stub) Transfer(_ context.Context, req TransferRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.debit(req.AccountID, req.Amount)
	if !ok {
		return Result{Success: false, Reason: "Insufficient funds"}, nil
	}
	var name string
	if id, exists := s.byPhone[req.RecipientPhone]; exists {
		recipient := s.accounts[id]
		recipient.Balance += req.Amount
		name = recipient.FirstName + " " + recipient.LastName
		s.record(id, req.Reference, "P2P_TRANSFER", "Received from "+acc.Phone, req.Amount)
	}
	s.record(req.AccountID, req.Reference, "P2P_TRANSFER", "Transfer to "+req.RecipientPhone, -req.Amount)
	return Result{Success: true, Reference: externalRef(), NewBalance: acc.Balance, RecipientName: name}, nil
}

// BuyAirtime implements Gateway.
func (s *Stub) BuyAirtime(_ context.Context, req AirtimeRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.debit(req.AccountID, req.Amount)
	if !ok {
		return Result{Success: false, Reason: "Insufficient funds"}, nil
	}
	s.record(req.AccountID, req.Reference, "AIRTIME", "Airtime for "+req.Recipient, -req.Amount)
	return Result{Success: true, Reference: externalRef(), NewBalance: acc.Balance}, nil
}

// BuyDataBundle implements Gateway.
func (s *Stub) BuyDataBundle(_ context.Context, req DataBundleRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := false
	for _, b := range defaultBundles {
		if b.Code == req.BundleCode && b.Price == req.Amount {
			known = true
			break
		}
	}
	if !known {
		return Result{Success: false, Reason: "Unknown data bundle"}, nil
	}
	acc, ok := s.debit(req.AccountID, req.Amount)
	if !ok {
		return Result{Success: false, Reason: "Insufficient funds"}, nil
	}
	s.record(req.AccountID, req.Reference, "DATA_BUNDLE", req.BundleCode+" for "+req.Recipient, -req.Amount)
	return Result{Success: true, Reference: externalRef(), NewBalance: acc.Balance}, nil
}

// PayBill implements Gateway. Electricity purchases return a token.
func (s *Stub) PayBill(_ context.Context, req BillRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.debit(req.AccountID, req.Amount)
	if !ok {
		return Result{Success: false, Reason: "Insufficient funds"}, nil
	}
	res := Result{Success: true, Reference: externalRef(), NewBalance: acc.Balance}
	if req.BillerCode == "ELECTRICITY" {
		token, err := meterToken()
		if err != nil {
			return Result{}, err
		}
		res.Token = token
	}
	s.record(req.AccountID, req.Reference, "BILL_PAYMENT", req.BillerCode+" "+req.CustomerAccount, -req.Amount)
	return res, nil
}

// LoanEligibility implements Gateway.
func (s *Stub) LoanEligibility(_ context.Context, accountID string) (LoanEligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(accountID)
	limit := acc.LoanLimit
	if limit == 0 {
		limit = 2_000_00
	}
	return LoanEligibility{Eligible: true, MaxAmount: limit, InterestRate: s.loanRate}, nil
}

// ApplyLoan implements Gateway.
func (s *Stub) ApplyLoan(_ context.Context, req LoanRequest) (LoanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(req.AccountID)
	limit := acc.LoanLimit
	if limit == 0 {
		limit = 2_000_00
	}
	if req.Amount <= 0 || req.Amount > limit {
		return LoanResult{Success: false, Reason: "Amount exceeds your loan limit"}, nil
	}
	acc.Balance += req.Amount
	interest := int64(float64(req.Amount) * s.loanRate / 100)
	s.record(req.AccountID, req.Reference, "LOAN_DISBURSEMENT", "Instant loan", req.Amount)
	return LoanResult{
		Success:        true,
		Reference:      externalRef(),
		ApprovedAmount: req.Amount,
		TotalRepayment: req.Amount + interest,
		DueDate:        time.Now().UTC().AddDate(0, 0, 30),
	}, nil
}

// Register implements Gateway.
func (s *Stub) Register(_ context.Context, p Profile) (Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPhone[p.Phone]; exists {
		return Registration{Success: false, Reason: "An account already exists for this number"}, nil
	}
	s.seq++
	id := fmt.Sprintf("MARIS%d%03d", time.Now().Unix(), s.seq)
	s.accounts[id] = &StubAccount{
		AccountID: id,
		Phone:     p.Phone,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		PIN:       p.PIN,
		Balance:   s.openingBalance,
	}
	s.byPhone[p.Phone] = id
	return Registration{Success: true, AccountID: id}, nil
}

// DataBundles implements Gateway.
func (s *Stub) DataBundles(_ context.Context) ([]Bundle, error) {
	return append([]Bundle(nil), defaultBundles...), nil
}

func meterToken() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("meter token: %w", err)
	}
	return fmt.Sprintf("%020d", n), nil
}
