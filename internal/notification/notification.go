package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	// KindOTP carries a one-time code.
	KindOTP = "otp"
	// KindTransaction confirms a completed transaction.
	KindTransaction = "transaction"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger instead of delivering them.
// OTP bodies are logged too, so it must only be used outside production.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// SMSNotifier posts messages to an HTTP SMS gateway.
type SMSNotifier struct {
	baseURL  string
	apiKey   string
	senderID string
	timeout  time.Duration
}

// NewSMSNotifier builds an SMS gateway client.
func NewSMSNotifier(baseURL, apiKey, senderID string, timeout time.Duration) *SMSNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMSNotifier{baseURL: baseURL, apiKey: apiKey, senderID: senderID, timeout: timeout}
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// Send delivers the message. Any non-2xx status is an error.
func (n *SMSNotifier) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agent := fiber.Post(n.baseURL + "/messages")
	agent.Set(fiber.HeaderAuthorization, "Bearer "+n.apiKey)
	agent.Timeout(n.timeout)
	agent.JSON(smsRequest{To: message.Destination, From: n.senderID, Message: message.Body})

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("sms gateway: %w", errs[0])
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("sms gateway: status %d: %s", status, string(body))
	}
	return nil
}
