package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects.
const (
	TransactionCompleted = "wallet.transaction.completed"
	TransactionFailed    = "wallet.transaction.failed"
	UserRegistered       = "wallet.user.registered"
	UserLocked           = "wallet.user.locked"
)

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
	Close() error
}

// TransactionEvent is published when a transaction reaches a terminal status.
type TransactionEvent struct {
	Reference         string    `json:"reference"`
	ExternalReference string    `json:"external_reference,omitempty"`
	UserID            string    `json:"user_id"`
	Type              string    `json:"type"`
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// UserEvent is published on account lifecycle changes.
type UserEvent struct {
	UserID     string    `json:"user_id"`
	Phone      string    `json:"phone"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NATSPublisher publishes JSON payloads to NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("chatwallet"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.logger.DebugContext(ctx, "publishing event", "subject", subject)
	return p.conn.Publish(subject, payload)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// LogPublisher logs events instead of publishing them.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher builds a logging publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.logger.InfoContext(ctx, "event", "subject", subject, "payload", string(payload))
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu       sync.Mutex
	subjects []string
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, subject string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Subjects returns the published subjects in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subjects...)
}
