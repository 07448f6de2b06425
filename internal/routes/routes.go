package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/engine"
	"github.com/congo-pay/chatwallet/internal/middleware"
	"github.com/congo-pay/chatwallet/internal/session"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes over the already
// built components.
func Setup(app *fiber.App, d Deps, comp *Components) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !config.IsDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if config.IsDev(d.Cfg.AppEnv) {
		// Plain text access log in dev: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d, comp)
	app.Get("/metrics", adaptor.HTTPHandler(comp.Metrics.Handler()))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	messages := engine.NewHandler(comp.Engine)
	if d.Cache != nil {
		api.Post("/messages", middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger), messages.Receive)
	} else {
		api.Post("/messages", messages.Receive)
	}

	sessions := session.NewHandler(comp.Sessions)
	api.Get("/sessions/stats", sessions.Stats)

	return nil
}
