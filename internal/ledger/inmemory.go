package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	transactions map[string]Transaction
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{transactions: make(map[string]Transaction)}
}

func (l *inMemoryLedger) Create(_ context.Context, tx Transaction) error {
	if tx.Reference == "" {
		return fmt.Errorf("transaction reference is required")
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.Status != StatusPending {
		return ErrInvalidTransition
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.transactions[tx.Reference]; exists {
		return ErrDuplicateTransaction
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	l.transactions[tx.Reference] = tx
	return nil
}

func (l *inMemoryLedger) Transition(_ context.Context, reference string, status Status, out Outcome) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[reference]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if !CanTransition(tx.Status, status) {
		return tx, fmt.Errorf("%s → %s: %w", tx.Status, status, ErrInvalidTransition)
	}
	apply(&tx, status, out, time.Now().UTC())
	l.transactions[reference] = tx
	return tx, nil
}

func (l *inMemoryLedger) Get(_ context.Context, reference string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.transactions[reference]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (l *inMemoryLedger) ListByUser(_ context.Context, userID string, limit int) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for _, tx := range l.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
