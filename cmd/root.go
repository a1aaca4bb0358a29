// Package cmd defines and implements the CLI commands for the reelwatch
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/app"
	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/config"
	"github.com/reelwatch/reelwatch/internal/delivery"
	"github.com/reelwatch/reelwatch/internal/lifecycle"
	"github.com/reelwatch/reelwatch/internal/momentum"
	"github.com/reelwatch/reelwatch/internal/monitor"
	"github.com/reelwatch/reelwatch/internal/notify"
	"github.com/reelwatch/reelwatch/internal/ratelimit"
	"github.com/reelwatch/reelwatch/internal/snapshot"
	"github.com/reelwatch/reelwatch/internal/source"
	"github.com/reelwatch/reelwatch/internal/store"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application interface the commands use. It lets tests inject a
// mock container.
type App interface {
	Close()
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetStore() *store.Postgres
	GetNotifier() notify.Notifier
	GetClock() clock.Clock
}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	return app.NewApp(ctx, cfgFile)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reelwatch",
		Short: "Monitors short-form video accounts and surfaces trending reels.",
		Long: `reelwatch tracks the recent reels of configured accounts, records
view/like/comment snapshots under a strict request budget, scores each reel's
momentum, and delivers the daily winner to a Telegram chat.`,

		// Runs after flag parsing and before the subcommand: the right
		// place to build and inject the service container.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars with prefix REELWATCH also apply)")

	cmd.AddCommand(newMonitorCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newDeliverCmd())
	cmd.AddCommand(newScheduleCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// buildRunner wires the collection pipeline out of the container's services.
func buildRunner(a App) *monitor.Runner {
	cfg := a.GetConfig()
	budget := ratelimit.New(ratelimit.Config{
		RequestsPerHour: cfg.Source.RequestsPerHour,
		JitterMin:       time.Duration(cfg.Source.JitterMinMs) * time.Millisecond,
		JitterMax:       time.Duration(cfg.Source.JitterMaxMs) * time.Millisecond,
		PauseChance:     cfg.Source.PauseChance,
		PauseMin:        time.Duration(cfg.Source.PauseMinSec) * time.Second,
		PauseMax:        time.Duration(cfg.Source.PauseMaxSec) * time.Second,
	}, a.GetClock())

	client := source.NewClient(source.Config{
		UserAgent: cfg.Source.UserAgent,
		AppID:     cfg.Source.AppID,
		Timeout:   time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
	}, budget, a.GetLogger())

	recorder := snapshot.NewRecorder(a.GetStore(), snapshot.Config{
		Retention:    cfg.Snapshot.Retention,
		MinViewDelta: cfg.Snapshot.MinViewDelta,
		MaxInterval:  time.Duration(cfg.Snapshot.MaxIntervalHours) * time.Hour,
	}, a.GetClock(), a.GetLogger())

	manager := lifecycle.NewManager(a.GetStore(), lifecycle.Config{
		MissingThreshold: cfg.Lifecycle.MissingThreshold,
		HardStale:        time.Duration(cfg.Lifecycle.HardStaleHours) * time.Hour,
		Inactive:         time.Duration(cfg.Lifecycle.InactiveHours) * time.Hour,
		MinViewsPerHour:  cfg.Lifecycle.MinViewsPerHour,
		MaxAge:           time.Duration(cfg.Lifecycle.MaxAgeDays) * 24 * time.Hour,
		MinTotalViews:    cfg.Lifecycle.MinTotalViews,
	}, a.GetClock(), a.GetLogger())

	return monitor.NewRunner(a.GetStore(), client, recorder, manager,
		budget, a.GetClock(), a.GetLogger())
}

func buildAnalyzer(a App) *momentum.Analyzer {
	return momentum.NewAnalyzer(a.GetStore(), a.GetClock(), a.GetLogger())
}

func buildGate(a App) *delivery.Gate {
	return delivery.NewGate(a.GetStore(), a.GetNotifier(), a.GetClock(), a.GetLogger())
}

// targetProjects resolves the project scope of a command: the --project flag
// wins, then the configured project.id pin, then all active projects.
func targetProjects(ctx context.Context, a App, flagID string) ([]store.Project, error) {
	id := flagID
	if id == "" {
		id = a.GetConfig().Project.ID
	}
	if id != "" {
		p, err := a.GetStore().ProjectByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load project %s: %w", id, err)
		}
		return []store.Project{p}, nil
	}
	return a.GetStore().ActiveProjects(ctx)
}
