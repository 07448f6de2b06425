package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateTransaction indicates the reference is already recorded.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrNotFound is returned for an unknown reference.
	ErrNotFound = errors.New("transaction not found")
	// ErrInvalidTransition rejects a non-monotonic status change.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
)

// Type enumerates the financial actions recorded.
type Type string

const (
	TypeAirtimeSelf     Type = "AIRTIME_SELF"
	TypeAirtimeOther    Type = "AIRTIME_OTHER"
	TypeDataBundle      Type = "DATA_BUNDLE"
	TypeP2PTransfer     Type = "P2P_TRANSFER"
	TypeBillPayment     Type = "BILL_PAYMENT"
	TypeMerchantPayment Type = "MERCHANT_PAYMENT"
	TypeLoanApplication Type = "LOAN_APPLICATION"
)

// Status is the transaction lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusReversed   Status = "REVERSED"
)

// Terminal reports whether no further forward transition exists except reversal.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusReversed:
		return true
	}
	return false
}

// CanTransition reports whether from → to moves forward.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusCompleted:
		return to == StatusReversed
	}
	return false
}

// Transaction is the local witness of a financial action's intent and outcome.
type Transaction struct {
	ID                string
	UserID            string
	Reference         string
	ExternalReference string
	Type              Type
	Status            Status
	Amount            int64
	Fee               int64
	Currency          string
	RecipientPhone    string
	RecipientName     string
	BillerCode        string
	BillerAccount     string
	ProductCode       string
	Description       string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       time.Time
}

// Outcome carries the gateway result applied on a status change.
type Outcome struct {
	ExternalReference string
	RecipientName     string
	FailureReason     string
}

// Ledger defines the contract implemented by transaction record backends.
type Ledger interface {
	// Create stores a new PENDING transaction.
	Create(ctx context.Context, tx Transaction) error
	// Transition moves the transaction to status, rejecting non-monotonic moves.
	Transition(ctx context.Context, reference string, status Status, out Outcome) (Transaction, error)
	Get(ctx context.Context, reference string) (Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
}

// NewReference returns a unique reference with the given prefix.
func NewReference(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + id[:16]
}

func apply(tx *Transaction, status Status, out Outcome, now time.Time) {
	tx.Status = status
	tx.UpdatedAt = now
	if out.ExternalReference != "" {
		tx.ExternalReference = out.ExternalReference
	}
	if out.RecipientName != "" {
		tx.RecipientName = out.RecipientName
	}
	if out.FailureReason != "" {
		tx.FailureReason = out.FailureReason
	}
	if status == StatusCompleted {
		tx.CompletedAt = now
	}
}
