package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPGateway talks to the wallet backend's REST API. Amounts travel as
// major-unit decimals on the wire.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewHTTPGateway builds a REST gateway client.
func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, timeout: timeout}
}

func toMajor(minor int64) float64 {
	return float64(minor) / 100
}

func toMinor(major float64) int64 {
	return int64(math.Round(major * 100))
}

// call performs one request and decodes the JSON body into out. The
// effective timeout is the shorter of the client timeout and ctx's deadline.
func (g *HTTPGateway) call(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	var agent *fiber.Agent
	switch method {
	case fiber.MethodGet:
		agent = fiber.Get(g.baseURL + path)
	default:
		agent = fiber.Post(g.baseURL + path)
	}
	agent.Set("X-API-Key", g.apiKey)
	agent.Timeout(timeout)
	if body != nil {
		agent.JSON(body)
	}

	status, raw, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, errs[0])
	}
	if status >= 500 {
		return fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, method, path, status)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

type apiResult struct {
	Success        bool    `json:"success"`
	Reference      string  `json:"marisReference"`
	NewBalance     float64 `json:"newBalance"`
	RecipientName  string  `json:"recipientName"`
	Token          string  `json:"token"`
	Error          string  `json:"error"`
	Message        string  `json:"message"`
	ApprovedAmount float64 `json:"approvedAmount"`
	TotalRepayment float64 `json:"totalRepayment"`
	DueDate        string  `json:"dueDate"`
	AccountID      string  `json:"accountId"`
}

func (r apiResult) reason() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

func (r apiResult) result() Result {
	res := Result{
		Success:       r.Success,
		Reference:     r.Reference,
		NewBalance:    toMinor(r.NewBalance),
		RecipientName: r.RecipientName,
		Token:         r.Token,
	}
	if !r.Success {
		res.Reason = r.reason()
	}
	return res
}

// CheckAccount implements Gateway.
func (g *HTTPGateway) CheckAccount(ctx context.Context, phone string) (Account, error) {
	var out struct {
		Exists    bool   `json:"exists"`
		AccountID string `json:"accountId"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := g.call(ctx, fiber.MethodPost, "/accounts/check", map[string]string{"phoneNumber": phone}, &out); err != nil {
		return Account{}, err
	}
	return Account{Exists: out.Exists, AccountID: out.AccountID, FirstName: out.FirstName, LastName: out.LastName}, nil
}

// VerifyPIN implements Gateway.
func (g *HTTPGateway) VerifyPIN(ctx context.Context, accountID, pin string) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := g.call(ctx, fiber.MethodPost, "/auth/verify-pin", map[string]string{"accountId": accountID, "pin": pin}, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// Balance implements Gateway.
func (g *HTTPGateway) Balance(ctx context.Context, accountID string) (Balance, error) {
	var out struct {
		Balance          float64 `json:"balance"`
		AvailableBalance float64 `json:"availableBalance"`
		SavingsBalance   float64 `json:"savingsBalance"`
		Currency         string  `json:"currency"`
	}
	if err := g.call(ctx, fiber.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/balance", nil, &out); err != nil {
		return Balance{}, err
	}
	return Balance{
		Balance:   toMinor(out.Balance),
		Available: toMinor(out.AvailableBalance),
		Savings:   toMinor(out.SavingsBalance),
		Currency:  out.Currency,
	}, nil
}

// History implements Gateway.
func (g *HTTPGateway) History(ctx context.Context, accountID string, limit int) ([]HistoryEntry, error) {
	var out struct {
		Transactions []struct {
			Reference   string  `json:"reference"`
			Type        string  `json:"type"`
			Amount      float64 `json:"amount"`
			Date        string  `json:"date"`
			Status      string  `json:"status"`
			Description string  `json:"description"`
		} `json:"transactions"`
	}
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions?limit=" + strconv.Itoa(limit)
	if err := g.call(ctx, fiber.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(out.Transactions))
	for _, t := range out.Transactions {
		date, _ := time.Parse(time.RFC3339, t.Date)
		entries = append(entries, HistoryEntry{
			Reference:   t.Reference,
			Type:        t.Type,
			Amount:      toMinor(t.Amount),
			Status:      t.Status,
			Description: t.Description,
			Date:        date,
		})
	}
	return entries, nil
}

// Transfer implements Gateway.
func (g *HTTPGateway) Transfer(ctx context.Context, req TransferRequest) (Result, error) {
	var out apiResult
	err := g.call(ctx, fiber.MethodPost, "/transactions/transfer", map[string]any{
		"accountId":      req.AccountID,
		"recipientPhone": req.RecipientPhone,
		"amount":         toMajor(req.Amount),
		"reference":      req.Reference,
	}, &out)
	if err != nil {
		return Result{}, err
	}
	return out.result(), nil
}

// BuyAirtime implements Gateway.
func (g *HTTPGateway) BuyAirtime(ctx context.Context, req AirtimeRequest) (Result, error) {
	var out apiResult
	err := g.call(ctx, fiber.MethodPost, "/transactions/airtime", map[string]any{
		"accountId": req.AccountID,
		"recipient": req.Recipient,
		"amount":    toMajor(req.Amount),
		"reference": req.Reference,
	}, &out)
	if err != nil {
		return Result{}, err
	}
	return out.result(), nil
}

// BuyDataBundle implements Gateway.
func (g *HTTPGateway) BuyDataBundle(ctx context.Context, req DataBundleRequest) (Result, error) {
	var out apiResult
	err := g.call(ctx, fiber.MethodPost, "/transactions/data-bundle", map[string]any{
		"accountId":  req.AccountID,
		"recipient":  req.Recipient,
		"bundleCode": req.BundleCode,
		"amount":     toMajor(req.Amount),
		"reference":  req.Reference,
	}, &out)
	if err != nil {
		return Result{}, err
	}
	return out.result(), nil
}

// PayBill implements Gateway.
func (g *HTTPGateway) PayBill(ctx context.Context, req BillRequest) (Result, error) {
	var out apiResult
	err := g.call(ctx, fiber.MethodPost, "/transactions/bill-payment", map[string]any{
		"accountId":       req.AccountID,
		"billerCode":      req.BillerCode,
		"customerAccount": req.CustomerAccount,
		"amount":          toMajor(req.Amount),
		"reference":       req.Reference,
	}, &out)
	if err != nil {
		return Result{}, err
	}
	return out.result(), nil
}

// LoanEligibility implements Gateway.
func (g *HTTPGateway) LoanEligibility(ctx context.Context, accountID string) (LoanEligibility, error) {
	var out struct {
		Eligible     bool    `json:"eligible"`
		MaxAmount    float64 `json:"maxAmount"`
		InterestRate float64 `json:"interestRate"`
	}
	if err := g.call(ctx, fiber.MethodGet, "/loans/eligibility/"+url.PathEscape(accountID), nil, &out); err != nil {
		return LoanEligibility{}, err
	}
	return LoanEligibility{Eligible: out.Eligible, MaxAmount: toMinor(out.MaxAmount), InterestRate: out.InterestRate}, nil
}

// ApplyLoan implements Gateway.
func (g *HTTPGateway) ApplyLoan(ctx context.Context, req LoanRequest) (LoanResult, error) {
	var out apiResult
	err := g.call(ctx, fiber.MethodPost, "/loans/apply", map[string]any{
		"accountId": req.AccountID,
		"amount":    toMajor(req.Amount),
		"reference": req.Reference,
	}, &out)
	if err != nil {
		return LoanResult{}, err
	}
	due, _ := time.Parse(time.RFC3339, out.DueDate)
	res := LoanResult{
		Success:        out.Success,
		Reference:      out.Reference,
		ApprovedAmount: toMinor(out.ApprovedAmount),
		TotalRepayment: toMinor(out.TotalRepayment),
		DueDate:        due,
	}
	if !out.Success {
		res.Reason = out.reason()
	}
	return res, nil
}

// Register implements Gateway.
func (g *HTTPGateway) Register(ctx context.Context, p Profile) (Registration, error) {
	var out apiResult
	err := g.call(ctx, fiber.MethodPost, "/accounts/register", map[string]string{
		"phoneNumber": p.Phone,
		"firstName":   p.FirstName,
		"lastName":    p.LastName,
		"idNumber":    p.IDNumber,
		"pin":         p.PIN,
	}, &out)
	if err != nil {
		return Registration{}, err
	}
	reg := Registration{Success: out.Success, AccountID: out.AccountID}
	if !out.Success {
		reg.Reason = out.reason()
	}
	return reg, nil
}

// DataBundles implements Gateway.
func (g *HTTPGateway) DataBundles(ctx context.Context) ([]Bundle, error) {
	var out struct {
		Bundles []struct {
			Code     string  `json:"code"`
			Name     string  `json:"name"`
			Price    float64 `json:"price"`
			Validity string  `json:"validity"`
		} `json:"bundles"`
	}
	if err := g.call(ctx, fiber.MethodGet, "/products/data-bundles", nil, &out); err != nil {
		return nil, err
	}
	bundles := make([]Bundle, 0, len(out.Bundles))
	for _, b := range out.Bundles {
		bundles = append(bundles, Bundle{Code: b.Code, Name: b.Name, Price: toMinor(b.Price), Validity: b.Validity})
	}
	return bundles, nil
}
