package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/logging"
	"github.com/congo-pay/chatwallet/internal/message"
)

func newTestApp(t *testing.T, withRedis bool) *fiber.App {
	t.Helper()
	cfg := config.Defaults()
	cfg.AppEnv = "test"

	d := Deps{Cfg: cfg, Logger: logging.Discard()}
	if withRedis {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("start miniredis: %v", err)
		}
		cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			cache.Close()
			mr.Close()
		})
		d.Cache = cache
	}

	comp, err := Build(context.Background(), d)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	app := fiber.New()
	if err := Setup(app, d, comp); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func sendMessage(t *testing.T, app *fiber.App, id, from, text string) message.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"message_id": id, "from": from, "type": "text", "text": text})
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/messages", strings.NewReader(string(body)))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Message-ID", id)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	var out message.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestMessagesEndpointAuthenticatesAndRunsFlow(t *testing.T) {
	app := newTestApp(t, true)

	out := sendMessage(t, app, "m1", "264811234567", "f")
	if out.Kind != message.KindText || !strings.Contains(out.Text, "PIN") {
		t.Fatalf("expected pin prompt, got %+v", out)
	}
	out = sendMessage(t, app, "m2", "264811234567", "12345")
	if out.Kind != message.KindMultiple || len(out.Messages) != 3 {
		t.Fatalf("expected welcome, balance and menu, got %+v", out)
	}
	if !strings.Contains(out.Messages[1].Text, "NAD 5000.00") {
		t.Fatalf("unexpected balance %q", out.Messages[1].Text)
	}

	replay := sendMessage(t, app, "m2", "264811234567", "12345")
	if replay.Kind != message.KindMultiple || len(replay.Messages) != 3 {
		t.Fatalf("redelivery was not replayed: %+v", replay)
	}
}

func TestMessagesEndpointRejectsMalformedEvent(t *testing.T) {
	app := newTestApp(t, false)

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/messages", strings.NewReader(`{"type":"text","text":"hi"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.StatusCode)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	app := newTestApp(t, false)
	sendMessage(t, app, "m1", "264815551234", "hi")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `chatwallet_messages_total{outcome="ok"} 1`) {
		t.Fatalf("message counter missing from exposition:\n%s", body)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/sessions/stats", nil))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["authenticated"] != 0 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
