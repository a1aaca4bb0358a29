// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/config"
	"github.com/reelwatch/reelwatch/internal/logging"
	"github.com/reelwatch/reelwatch/internal/metrics"
	"github.com/reelwatch/reelwatch/internal/notify"
	"github.com/reelwatch/reelwatch/internal/store"
)

// App holds the shared, long-lived services: config, logger, the Postgres
// store and the notification channel. It is initialized once at startup and
// handed to the commands that need it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *store.Postgres
	notifier notify.Notifier
	clk      clock.Clock
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config { return a.cfg }

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetStore returns the Postgres store.
func (a *App) GetStore() *store.Postgres { return a.store }

// GetNotifier returns the configured notification channel.
func (a *App) GetNotifier() notify.Notifier { return a.notifier }

// GetClock returns the wall clock used by all time-dependent components.
func (a *App) GetClock() clock.Clock { return a.clk }

// NewApp loads configuration and initializes every service. It fails fast:
// a missing DSN or unreachable database stops startup.
func NewApp(ctx context.Context, cfgFile string) (*App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	logger.Info("connecting to PostgreSQL")
	st, err := store.New(ctx, store.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	var notifier notify.Notifier
	if cfg.Telegram.Token != "" {
		notifier, err = notify.NewTelegram(cfg.Telegram.Token,
			time.Duration(cfg.Telegram.TimeoutSeconds)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("init telegram: %w", err)
		}
	} else {
		logger.Info("no telegram token configured, notifications are discarded")
		notifier = notify.Noop{}
	}

	logger.Info("application services initialized")
	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		notifier: notifier,
		clk:      clock.System{},
	}, nil
}

// Close gracefully shuts down all services. Called by a Cobra hook after the
// command finishes.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.store.Close()
	// Best effort: stderr sync fails on some platforms and that is fine.
	_ = a.logger.Sync()
}
