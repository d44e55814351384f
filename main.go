package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	crmbot "tg-crm/bot"
	"tg-crm/config"
	"tg-crm/internal/adminapi"
	"tg-crm/internal/broadcast"
	"tg-crm/internal/database"
	"tg-crm/internal/dispatch"
	"tg-crm/internal/locales"
	"tg-crm/internal/media"
	"tg-crm/internal/notify"
	"tg-crm/internal/sender"

	"github.com/coreos/go-systemd/v22/daemon"
	sentry "github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("Fatal error")
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	setupLogger(cfg)

	if err := locales.Init(cfg.DefaultLanguage); err != nil {
		return err
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.AppEnv,
		Release:          cfg.Version,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		Debug:            cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	defer sentry.Flush(2 * time.Second)

	client, db, err := database.ConnectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error disconnecting from MongoDB")
			sentry.CaptureException(err)
		} else {
			log.Info().Msg("Disconnected from MongoDB")
		}
	}()
	if err := database.EnsureIndexes(ctx, db); err != nil {
		return err
	}

	ledger, closeLedger, err := openLedger(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeLedger()

	bot, err := telego.NewBot(cfg.BotToken, telego.WithLogger(telegoLogger{token: cfg.BotToken}))
	if err != nil {
		return fmt.Errorf("failed to create telego bot: %w", err)
	}

	broadcasts := database.NewMongoBroadcastRepository(db)
	clients := database.NewMongoClientRepository(db)
	engine := broadcast.NewEngine(broadcast.Deps{
		Broadcasts: broadcasts,
		Clients:    clients,
		Ledger:     ledger,
		Resolver:   media.NewResolver(cfg.MediaRoot),
		Sender: sender.New(bot, sender.Config{
			MinCallInterval:  cfg.SendMinInterval,
			RetryMaxAttempts: cfg.RetryMaxAttempts,
			RetryMaxWait:     cfg.RetryMaxWait,
			ErrorTextLimit:   cfg.ErrorTextLimit,
		}),
		Notifier:       notify.New(bot, cfg.OperatorChatID, cfg.DefaultLanguage),
		RecipientDelay: recipientDelay(cfg.RecipientDelay),
	})

	if n, err := engine.Machine().RecoverInterrupted(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Warn().Int("count", n).Msg("Returned interrupted broadcasts to draft")
	}

	dispatcher := dispatch.New(dispatch.Config{
		Workers:    cfg.DispatchWorkers,
		RatePerSec: cfg.DispatchRate,
		Schedule:   cfg.DispatchSchedule,
	}, engine, broadcasts)
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}

	if cfg.IntakeEnabled {
		updates, err := bot.UpdatesViaLongPolling(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start long polling: %w", err)
		}
		intake, err := crmbot.New(crmbot.Deps{
			Bot:         bot,
			UpdatesChan: updates,
			Clients:     clients,
			Source:      cfg.BotSource,
			Language:    cfg.DefaultLanguage,
		})
		if err != nil {
			return err
		}
		go intake.Start(ctx)
	}

	api := adminapi.New(ctx, adminapi.Config{
		Addr:     cfg.HTTPAddr,
		Token:    cfg.AdminToken,
		Language: cfg.DefaultLanguage,
		Debug:    cfg.Debug,
	}, engine, dispatcher)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- api.Start()
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify READY failed")
	}
	log.Info().Str("version", cfg.Version).Str("env", cfg.AppEnv).Str("ledger", cfg.LedgerDriver).Msg("Service started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
	case runErr = <-serveErr:
		if runErr != nil {
			runErr = fmt.Errorf("admin API: %w", runErr)
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Admin API shutdown failed")
	}
	dispatcher.Stop(shutdownCtx)

	log.Info().Msg("Shutdown complete")
	return runErr
}

func openLedger(ctx context.Context, cfg *config.Config, db *mongo.Database) (database.DeliveryLedger, func(), error) {
	if cfg.LedgerDriver != config.LedgerSQLite {
		return database.NewMongoLedger(db), func() {}, nil
	}

	ledger, err := database.OpenSQLiteLedger(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return ledger, func() {
		if err := ledger.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing SQLite ledger")
		}
	}, nil
}

// recipientDelay maps a configured zero to "no pause"; the engine treats zero as its default.
func recipientDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "tg-crm").Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// telegoLogger routes telego's own logging through zerolog with the bot token masked.
type telegoLogger struct {
	token string
}

func (l telegoLogger) Debugf(format string, args ...any) {
	log.Debug().Str("component", "telego").Msg(l.mask(fmt.Sprintf(format, args...)))
}

func (l telegoLogger) Errorf(format string, args ...any) {
	log.Error().Str("component", "telego").Msg(l.mask(fmt.Sprintf(format, args...)))
}

func (l telegoLogger) mask(s string) string {
	if l.token == "" {
		return s
	}
	return strings.ReplaceAll(s, l.token, "BOT_TOKEN")
}
