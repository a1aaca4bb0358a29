package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/metrics"
	"github.com/reelwatch/reelwatch/internal/scheduler"
)

// newScheduleCmd creates the 'schedule' subcommand: the long-running mode
// that loops monitoring+analysis and delivery checks until interrupted.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs the monitoring and delivery loops until interrupted",
		Long: `Starts two loops: a monitor+analyze pass on the monitor interval and a
delivery check on the delivery interval. Also serves /healthz and /metrics on
the configured admin port. SIGINT or SIGTERM stops both loops gracefully.`,

		RunE: runScheduleCommand,
	}
	return cmd
}

func runScheduleCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	log := appInstance.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := buildRunner(appInstance)
	analyzer := buildAnalyzer(appInstance)
	gate := buildGate(appInstance)
	pinned := cfg.Project.ID

	monitorJob := func(ctx context.Context) error {
		if _, err := runner.Run(ctx, pinned); err != nil {
			return err
		}
		projects, err := targetProjects(ctx, appInstance, pinned)
		if err != nil {
			return err
		}
		for _, project := range projects {
			if _, err := analyzer.Analyze(ctx, project.ID); err != nil {
				log.Error("analysis failed",
					zap.String("project_id", project.ID), zap.Error(err))
			}
		}
		return nil
	}

	deliveryJob := func(ctx context.Context) error {
		projects, err := targetProjects(ctx, appInstance, pinned)
		if err != nil {
			return err
		}
		for _, project := range projects {
			if _, err := gate.TryDeliver(ctx, project); err != nil {
				log.Error("delivery failed",
					zap.String("project_id", project.ID), zap.Error(err))
			}
		}
		return nil
	}

	server := newAdminServer(cfg.Server.Port)
	go func() {
		log.Info("admin server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server failed", zap.Error(err))
		}
	}()

	sched := scheduler.New(scheduler.Config{
		MonitorInterval:  cfg.MonitorInterval(),
		DeliveryInterval: cfg.DeliveryInterval(),
	}, monitorJob, deliveryJob, log)
	sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("admin server shutdown", zap.Error(err))
	}
	return nil
}

// newAdminServer serves liveness and Prometheus metrics.
func newAdminServer(port int) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
