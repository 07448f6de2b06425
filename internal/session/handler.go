package session

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes session statistics.
type Handler struct {
	manager *Manager
}

// NewHandler builds a session HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Stats returns active and authenticated session counts.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.manager.Stats(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(stats)
}
