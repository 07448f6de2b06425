package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "ChatWallet"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultCurrency       = "NAD"
	defaultLockTTL        = 45 * time.Second
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	NATSURL        string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	LockTTL        time.Duration
	Currency       string
	EncryptionKey  string
	CatalogPath    string

	Session SessionConfig
	Auth    AuthConfig
	Gateway GatewayConfig
	SMS     SMSConfig
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL           time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// AuthConfig holds PIN and OTP policy.
type AuthConfig struct {
	PINLength      int
	MaxPINAttempts int
	PINLockout     time.Duration
	OTPLength      int
	OTPTTL         time.Duration
	OTPMaxAttempts int
}

// GatewayConfig selects and configures the wallet backend.
type GatewayConfig struct {
	Mode    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SMSConfig configures OTP delivery. An empty BaseURL logs codes instead of sending them.
type SMSConfig struct {
	BaseURL  string
	APIKey   string
	SenderID string
}

// Defaults returns the configuration used when no environment overrides are present.
func Defaults() Config {
	return Config{
		AppName:        defaultAppName,
		AppEnv:         defaultAppEnv,
		Port:           defaultPort,
		LogLevel:       defaultLogLevel,
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		LockTTL:        defaultLockTTL,
		Currency:       defaultCurrency,
		Session: SessionConfig{
			TTL:           5 * time.Minute,
			IdleTimeout:   5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Auth: AuthConfig{
			PINLength:      5,
			MaxPINAttempts: 3,
			PINLockout:     30 * time.Minute,
			OTPLength:      6,
			OTPTTL:         5 * time.Minute,
			OTPMaxAttempts: 3,
		},
		Gateway: GatewayConfig{
			Mode:    "stub",
			Timeout: 30 * time.Second,
		},
		SMS: SMSConfig{SenderID: defaultAppName},
	}
}

// Load reads configuration values from the environment (and an optional .env
// file) and populates a Config instance.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	d := Defaults()
	cfg := Config{
		AppName:       getEnv("APP_NAME", d.AppName),
		AppEnv:        getEnv("APP_ENV", d.AppEnv),
		Port:          getEnv("PORT", d.Port),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", d.LogLevel)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		NATSURL:       os.Getenv("NATS_URL"),
		Currency:      getEnv("CURRENCY", d.Currency),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		CatalogPath:   os.Getenv("CATALOG_PATH"),
		Gateway: GatewayConfig{
			Mode:    strings.ToLower(getEnv("WALLET_GATEWAY_MODE", d.Gateway.Mode)),
			BaseURL: os.Getenv("WALLET_GATEWAY_URL"),
			APIKey:  os.Getenv("WALLET_GATEWAY_API_KEY"),
		},
		SMS: SMSConfig{
			BaseURL:  os.Getenv("SMS_GATEWAY_URL"),
			APIKey:   os.Getenv("SMS_API_KEY"),
			SenderID: getEnv("SMS_SENDER_ID", d.SMS.SenderID),
		},
	}

	var err error
	durations := []struct {
		dst      *time.Duration
		name     string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", d.ShutdownPeriod},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", d.IdempotencyTTL},
		{&cfg.LockTTL, "USER_LOCK_TTL", d.LockTTL},
		{&cfg.Session.TTL, "SESSION_TTL", d.Session.TTL},
		{&cfg.Session.IdleTimeout, "SESSION_IDLE_TIMEOUT", d.Session.IdleTimeout},
		{&cfg.Session.SweepInterval, "SESSION_SWEEP_INTERVAL", d.Session.SweepInterval},
		{&cfg.Auth.PINLockout, "PIN_LOCKOUT", d.Auth.PINLockout},
		{&cfg.Auth.OTPTTL, "OTP_TTL", d.Auth.OTPTTL},
		{&cfg.Gateway.Timeout, "WALLET_GATEWAY_TIMEOUT", d.Gateway.Timeout},
	}
	for _, item := range durations {
		if *item.dst, err = getDuration(item.name, item.fallback); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		dst      *int
		name     string
		fallback int
	}{
		{&cfg.Auth.PINLength, "PIN_LENGTH", d.Auth.PINLength},
		{&cfg.Auth.MaxPINAttempts, "MAX_PIN_ATTEMPTS", d.Auth.MaxPINAttempts},
		{&cfg.Auth.OTPLength, "OTP_LENGTH", d.Auth.OTPLength},
		{&cfg.Auth.OTPMaxAttempts, "OTP_MAX_ATTEMPTS", d.Auth.OTPMaxAttempts},
	}
	for _, item := range ints {
		if *item.dst, err = getInt(item.name, item.fallback); err != nil {
			return Config{}, err
		}
	}

	// SESSION_TIMEOUT_MINUTES sets both the absolute and the idle window.
	if v := os.Getenv("SESSION_TIMEOUT_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SESSION_TIMEOUT_MINUTES: %w", err)
		}
		cfg.Session.TTL = time.Duration(minutes) * time.Minute
		cfg.Session.IdleTimeout = cfg.Session.TTL
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if !IsDev(c.AppEnv) {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	switch c.Gateway.Mode {
	case "stub":
	case "http":
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("WALLET_GATEWAY_URL must be set when WALLET_GATEWAY_MODE=http")
		}
	default:
		return fmt.Errorf("unknown WALLET_GATEWAY_MODE %q", c.Gateway.Mode)
	}
	if c.Auth.PINLength <= 0 || c.Auth.OTPLength <= 0 {
		return fmt.Errorf("PIN_LENGTH and OTP_LENGTH must be positive")
	}
	if c.Auth.MaxPINAttempts <= 0 || c.Auth.OTPMaxAttempts <= 0 {
		return fmt.Errorf("MAX_PIN_ATTEMPTS and OTP_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether env names a local development environment.
func IsDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getDuration accepts KEY_SECONDS as an integer or KEY as a Go duration string.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
