package routes

import (
	"context"
	"fmt"

	"github.com/congo-pay/chatwallet/internal/audit"
	"github.com/congo-pay/chatwallet/internal/auth"
	"github.com/congo-pay/chatwallet/internal/config"
	"github.com/congo-pay/chatwallet/internal/conversation"
	"github.com/congo-pay/chatwallet/internal/engine"
	"github.com/congo-pay/chatwallet/internal/events"
	"github.com/congo-pay/chatwallet/internal/flows"
	"github.com/congo-pay/chatwallet/internal/gateway"
	"github.com/congo-pay/chatwallet/internal/identity"
	"github.com/congo-pay/chatwallet/internal/ledger"
	"github.com/congo-pay/chatwallet/internal/lock"
	"github.com/congo-pay/chatwallet/internal/metrics"
	"github.com/congo-pay/chatwallet/internal/notification"
	"github.com/congo-pay/chatwallet/internal/session"
	"github.com/congo-pay/chatwallet/internal/vault"
)

// Components are the long-lived services behind the HTTP surface.
type Components struct {
	Engine    *engine.Engine
	Sessions  *session.Manager
	Metrics   *metrics.Metrics
	Publisher events.Publisher
}

// Build wires repositories, the wallet gateway and every service. Postgres and
// Redis backed implementations are used when d carries a pool or client;
// otherwise in-memory ones, which only make sense in dev.
func Build(ctx context.Context, d Deps) (*Components, error) {
	cfg := d.Cfg
	log := d.Logger

	catalog := config.DefaultCatalog()
	if cfg.CatalogPath != "" {
		loaded, err := config.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	var (
		userRepo    identity.Repository
		stateRepo   conversation.Repository
		sessionRepo session.Repository
		otpRepo     auth.OTPRepository
		txLedger    ledger.Ledger
		recorder    audit.Recorder
	)
	if d.DB != nil {
		userRepo = identity.NewPostgresRepository(d.DB)
		stateRepo = conversation.NewPostgresRepository(d.DB)
		sessionRepo = session.NewPostgresRepository(d.DB)
		otpRepo = auth.NewPostgresOTPRepository(d.DB)
		txLedger = ledger.NewPostgresLedger(d.DB)
		recorder = audit.NewPostgresRecorder(d.DB, log)
	} else {
		userRepo = identity.NewMemoryRepository()
		stateRepo = conversation.NewMemoryRepository()
		sessionRepo = session.NewMemoryRepository()
		otpRepo = auth.NewMemoryOTPRepository()
		txLedger = ledger.NewInMemory()
		recorder = audit.NewLogRecorder(log)
	}

	var gw gateway.Gateway
	switch cfg.Gateway.Mode {
	case "http":
		gw = gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	case "stub":
		gw = gateway.NewDemoStub()
		log.Warn("using in-memory wallet gateway with demo accounts")
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.Gateway.Mode)
	}

	var notifier notification.Notifier
	if cfg.SMS.BaseURL != "" {
		notifier = notification.NewSMSNotifier(cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.SenderID, cfg.Gateway.Timeout)
	} else {
		notifier = notification.NewLoggerNotifier(log)
	}

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, log)
		if err != nil {
			return nil, err
		}
		publisher = nats
	} else {
		publisher = events.NewLogPublisher(log)
	}

	var locker lock.Locker = lock.NewKeyed()
	if d.Cache != nil {
		locker = lock.NewRedisLocker(d.Cache, cfg.LockTTL)
	}

	m := metrics.New()
	users := identity.NewService(userRepo)
	if cfg.Gateway.Mode == "stub" {
		if err := seedDemoUsers(ctx, users); err != nil {
			return nil, err
		}
	}
	sessions := session.NewManager(sessionRepo, cfg.Session, log)
	authSvc := auth.NewService(cfg.Auth, auth.Deps{
		Users:    users,
		Sessions: sessions,
		OTPs:     otpRepo,
		Gateway:  gw,
		Notifier: notifier,
		Audit:    recorder,
		Events:   publisher,
		Metrics:  m,
		Logger:   log,
	})
	registry := flows.NewRegistry(flows.Deps{
		Gateway:        gw,
		Ledger:         txLedger,
		Auth:           authSvc,
		Users:          users,
		Vault:          v,
		Audit:          recorder,
		Events:         publisher,
		Metrics:        m,
		Logger:         log,
		Catalog:        catalog,
		Currency:       cfg.Currency,
		GatewayTimeout: cfg.Gateway.Timeout,
	})
	eng := engine.New(cfg.Auth, cfg.LockTTL, engine.Deps{
		Users:    users,
		States:   stateRepo,
		Sessions: sessions,
		Auth:     authSvc,
		Flows:    registry,
		Locker:   locker,
		Metrics:  m,
		Logger:   log,
	})

	log.InfoContext(ctx, "components ready",
		"gateway", cfg.Gateway.Mode,
		"postgres", d.DB != nil,
		"redis", d.Cache != nil,
		"nats", cfg.NATSURL != "",
	)
	return &Components{Engine: eng, Sessions: sessions, Metrics: m, Publisher: publisher}, nil
}

// seedDemoUsers links the stub's demo accounts to registered users so they can
// sign in with their PIN straight away.
func seedDemoUsers(ctx context.Context, users *identity.Service) error {
	for _, acc := range gateway.DemoAccounts {
		user, err := users.Resolve(ctx, acc.Phone, acc.FirstName)
		if err != nil {
			return fmt.Errorf("seed demo user %s: %w", acc.AccountID, err)
		}
		if user.IsRegistered {
			continue
		}
		profile := identity.Profile{FirstName: acc.FirstName, LastName: acc.LastName, WalletAccountID: acc.AccountID}
		if _, err := users.CompleteRegistration(ctx, user, profile); err != nil {
			return fmt.Errorf("seed demo user %s: %w", acc.AccountID, err)
		}
	}
	return nil
}
