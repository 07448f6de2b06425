package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	comp   *routes.Components
	logger *slog.Logger
}

// New builds the components and delegates route wiring to routes.Setup.
func New(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Gateway.Timeout + 30*time.Second,
	})

	d := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger}
	comp, err := routes.Build(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := routes.Setup(app, d, comp); err != nil {
		comp.Publisher.Close()
		return nil, err
	}

	return &Server{app: app, cfg: cfg, comp: comp, logger: logger}, nil
}

// RunBackground starts the session sweeper. It stops when ctx is cancelled.
func (s *Server) RunBackground(ctx context.Context) {
	go s.comp.Sessions.Run(ctx)
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server and flushes the event publisher.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if cerr := s.comp.Publisher.Close(); cerr != nil {
		s.logger.Warn("close event publisher", "error", cerr)
	}
	return err
}
