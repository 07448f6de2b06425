package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/chatwallet/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *int64, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	logger := logging.Discard()
	var hits int64
	app.Use(RequestID())
	app.Use(Idempotency(cache, time.Minute, logger))
	app.Post("/messages", func(c *fiber.Ctx) error {
		n := atomic.AddInt64(&hits, 1)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"type": "text", "n": n})
	})
	app.Post("/fails", func(c *fiber.Ctx) error {
		atomic.AddInt64(&hits, 1)
		return fiber.NewError(fiber.StatusBadGateway, "upstream")
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, &hits, cleanup
}

func post(t *testing.T, app *fiber.App, path, messageID string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if messageID != "" {
		req.Header.Set(messageIDHeader, messageID)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, hits, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/messages", "")
	status, _ := post(t, app, "/messages", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	if atomic.LoadInt64(hits) != 2 {
		t.Fatalf("expected handler to run twice, ran %d", atomic.LoadInt64(hits))
	}
}

func TestIdempotencyReplaysRedeliveredMessage(t *testing.T) {
	app, hits, cleanup := setupTestApp(t)
	defer cleanup()

	status, payload := post(t, app, "/messages", "wamid.abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}

	// The redelivery must not reach the handler.
	status, cached := post(t, app, "/messages", "wamid.abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, status)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if atomic.LoadInt64(hits) != 1 {
		t.Fatalf("handler ran %d times", atomic.LoadInt64(hits))
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}

	post(t, app, "/messages", "wamid.other")
	if atomic.LoadInt64(hits) != 2 {
		t.Fatalf("distinct message id was replayed")
	}
}

func TestIdempotencyForgetsFailedAttempt(t *testing.T) {
	app, hits, cleanup := setupTestApp(t)
	defer cleanup()

	status, _ := post(t, app, "/fails", "wamid.retry")
	if status != fiber.StatusBadGateway {
		t.Fatalf("expected %d got %d", fiber.StatusBadGateway, status)
	}
	post(t, app, "/fails", "wamid.retry")
	if atomic.LoadInt64(hits) != 2 {
		t.Fatalf("failed attempt should not be cached, handler ran %d times", atomic.LoadInt64(hits))
	}
}
