package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"photo-indexer/internal/handlers"
	"photo-indexer/internal/identity"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
	"photo-indexer/internal/middleware"
	"photo-indexer/internal/pipeline"
	"photo-indexer/internal/startup"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *startup.Config) error {
	startTime := time.Now()

	startup.PrintBanner()
	startup.LogSystemInfo()
	cfg.Log()

	a, err := openApp(context.Background(), cfg)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(a.db, statsInterval)
	collector.Start()

	sessions := identity.NewSessions(a.people, sessionIdleTimeout)
	h := handlers.New(a.orchestrator, a.db, a.people, sessions)
	router := h.Router()
	router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	startup.LogHTTPRoutes(router, cfg.LogHealthChecks)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withRequestLogging(router, cfg.LogHealthChecks),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		metricsRouter := http.NewServeMux()
		metricsRouter.Handle("/metrics", h.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           metricsRouter,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	scheduler, err := newScheduler(cfg, a.orchestrator)
	if err != nil {
		collector.Stop()
		a.Close()
		return err
	}
	startup.LogSchedulerInit(cfg)
	if scheduler != nil {
		scheduler.Start()
	}
	if cfg.ScanOnStart {
		a.orchestrator.Start(pipeline.FullScan)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	h.SetReady(true)
	startup.LogServerStarted(startup.ServerConfig{
		Port:            cfg.Port,
		MetricsPort:     cfg.MetricsPort,
		MetricsEnabled:  cfg.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		startup.LogShutdownInitiated(sig.String())
	case serveErr = <-errCh:
		logging.Error("%v", serveErr)
		startup.LogShutdownInitiated("server error")
	}

	h.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if scheduler != nil {
		startup.LogShutdownStep("Stopping scheduler")
		<-scheduler.Stop().Done()
		startup.LogShutdownStepComplete("Scheduler stopped")
	}

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logging.Error("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	collector.Stop()

	startup.LogShutdownStep("Stopping pipeline and closing database")
	if err := a.Close(); err != nil {
		logging.Error("Shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Database closed")
	}

	startup.LogShutdownComplete()
	return serveErr
}

func withRequestLogging(router *mux.Router, logHealthChecks bool) http.Handler {
	config := middleware.DefaultLoggingConfig()
	config.LogHealthChecks = logHealthChecks
	return middleware.Logger(config)(router)
}

// scanStarter is the orchestrator surface the scheduler needs.
type scanStarter interface {
	Start(kind pipeline.Kind) (runID string, started bool)
}

// newScheduler returns a cron scheduler that requests a library scan on the
// configured schedule, or nil when periodic scans are disabled. Ticks that
// land while a run is active are dropped by the orchestrator.
func newScheduler(cfg *startup.Config, starter scanStarter) (*cron.Cron, error) {
	if !cfg.ScanEnabled() {
		return nil, nil
	}
	logger := cronLogger{log: logging.For("scheduler")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	if _, err := c.AddFunc(cfg.ScanSchedule, func() {
		if runID, ok := starter.Start(pipeline.LibraryScan); ok {
			logger.log.Info("Scheduled library scan started (run %s)", runID)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", cfg.ScanSchedule, err)
	}
	return c, nil
}

// cronLogger adapts the component logger to cron.Logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("%s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("%s: %v %v", msg, err, keysAndValues)
}
