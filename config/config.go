package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
)

// Ledger drivers.
const (
	LedgerMongo  = "mongo"
	LedgerSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=development"`
	Debug   bool   `env:"DEBUG,default=false"`
	Version string `env:"VERSION,default=dev"`

	BotToken        string `env:"TELEGRAM_BOT_TOKEN"`
	SentryDSN       string `env:"SENTRY_DSN"`
	MongoDBURI      string `env:"MONGODB_URI"`
	MongoDBDatabase string `env:"MONGODB_DATABASE"`

	LedgerDriver string `env:"LEDGER_DRIVER,default=mongo"`
	SQLitePath   string `env:"SQLITE_PATH,default=deliveries.db"`

	SendMinInterval  time.Duration `env:"SEND_MIN_INTERVAL,default=300ms"`
	RecipientDelay   time.Duration `env:"RECIPIENT_DELAY,default=500ms"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS,default=5"`
	RetryMaxWait     time.Duration `env:"RETRY_MAX_WAIT,default=2m"`
	ErrorTextLimit   int           `env:"ERROR_TEXT_LIMIT,default=500"`

	DispatchWorkers  int     `env:"DISPATCH_WORKERS,default=2"`
	DispatchRate     float64 `env:"DISPATCH_RATE,default=1"`
	DispatchSchedule string  `env:"DISPATCH_SCHEDULE,default=@every 30s"`

	HTTPAddr        string `env:"HTTP_ADDR,default=:8080"`
	AdminToken      string `env:"ADMIN_TOKEN"`
	OperatorChatID  int64  `env:"OPERATOR_CHAT_ID"`
	DefaultLanguage string `env:"DEFAULT_LANGUAGE,default=ru"`
	MediaRoot       string `env:"MEDIA_ROOT"`

	IntakeEnabled bool   `env:"INTAKE_ENABLED,default=false"`
	BotSource     string `env:"BOT_SOURCE,default=main"`
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present but prioritizes
// actual environment variables set in the system (e.g., by Docker).
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.MongoDBURI == "" {
		return fmt.Errorf("MONGODB_URI is required")
	}
	if c.MongoDBDatabase == "" {
		return fmt.Errorf("MONGODB_DATABASE is required")
	}
	switch c.LedgerDriver {
	case LedgerMongo:
	case LedgerSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite ledger")
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be %q or %q, got %q", LedgerMongo, LedgerSQLite, c.LedgerDriver)
	}
	if c.SendMinInterval < 0 || c.RecipientDelay < 0 {
		return fmt.Errorf("SEND_MIN_INTERVAL and RECIPIENT_DELAY must not be negative")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be at least 1")
	}
	if c.DispatchRate <= 0 {
		return fmt.Errorf("DISPATCH_RATE must be positive")
	}

	if c.SentryDSN == "" {
		log.Warn().Msg("SENTRY_DSN is not set. Error tracking disabled.")
	}
	if c.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN is not set. The admin API is unauthenticated.")
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
