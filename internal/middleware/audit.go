package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/chatwallet/internal/logging"
)

// Audit logs one structured line per request. Replayed deliveries and the
// transport message id are included so redeliveries can be traced.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if id := c.Get(messageIDHeader); id != "" {
			attrs = append(attrs, slog.String("message_id", id))
		}
		if replay := c.GetRespHeader("X-Idempotent-Replay"); replay != "" {
			attrs = append(attrs, slog.Bool("replay", true))
		}

		log := logging.From(c.UserContext(), logger)
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			log.Error("request completed", attrs...)
			return err
		}
		log.Info("request completed", attrs...)
		return nil
	}
}
