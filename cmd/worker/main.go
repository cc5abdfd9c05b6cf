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
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jwalitptl/stockalert-api/internal/app"
	"github.com/jwalitptl/stockalert-api/internal/config"
	"github.com/jwalitptl/stockalert-api/internal/handler/health"
	promhandler "github.com/jwalitptl/stockalert-api/internal/handler/prometheus"
	"github.com/jwalitptl/stockalert-api/internal/middleware"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/metrics"
	"github.com/jwalitptl/stockalert-api/pkg/worker"
)

func main() {
	flags := pflag.NewFlagSet("worker", pflag.ExitOnError)
	once := flags.Bool("once", false, "run a single dispatch pass and exit")
	flags.Duration("interval", time.Minute, "time between dispatch passes")
	runTimeout := flags.Duration("run-timeout", 0, "upper bound for a single pass (0 disables)")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	if err := v.BindPFlag("worker.poll_interval", flags.Lookup("interval")); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind flags")
	}

	cfg, err := config.Load(v)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})
	log.Logger = *appLogger.Zerolog()

	if err := cfg.Secrets.RequireProviders(); err != nil {
		log.Fatal().Err(err).Msg("Delivery providers are not configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics("stockalert", "")
	a, err := app.New(ctx, cfg, appLogger, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	runner, err := worker.NewDispatchRunner(a.Dispatch, worker.DispatchRunnerConfig{
		PollInterval: cfg.Worker.PollInterval,
		RunTimeout:   *runTimeout,
	}, appLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create dispatch runner")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	if *once {
		stats, err := runner.RunOnce(ctx)
		if err != nil {
			appLogger.Error(err, "Dispatch run failed")
			a.Close()
			os.Exit(1)
		}
		appLogger.Info("Dispatch run complete",
			"processed", stats.UsersProcessed,
			"emails_sent", stats.EmailsSent,
			"sms_sent", stats.SMSSent,
			"skipped", stats.Skipped,
		)
		return
	}

	srv := setupHealthCheck(cfg.Worker.HealthPort, a.HealthChecks(), appLogger)
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(err, "Health server shutdown failed")
		}
	}()

	runner.Start(ctx)
}

// setupHealthCheck serves probes and metrics on a side port so orchestrators can
// watch a worker that exposes no API.
func setupHealthCheck(port int, checks map[string]health.Check, appLogger *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery())
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", promhandler.New("stockalert_worker", prometheus.DefaultRegisterer, prometheus.DefaultGatherer).Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}
