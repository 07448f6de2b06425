package engine

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/chatwallet/internal/message"
)

// Handler exposes the engine to the messaging transport.
type Handler struct {
	engine *Engine
}

// NewHandler builds the inbound message handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Receive processes one normalized inbound event and returns the reply. The
// X-Message-ID header stands in for a missing message_id.
func (h *Handler) Receive(c *fiber.Ctx) error {
	var ev message.Event
	if err := c.BodyParser(&ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if ev.MessageID == "" {
		ev.MessageID = strings.TrimSpace(c.Get("X-Message-ID"))
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	resp := h.engine.ProcessMessage(c.UserContext(), ev)
	return c.Status(http.StatusOK).JSON(resp)
}
