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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/stockalert-api/internal/app"
	"github.com/jwalitptl/stockalert-api/internal/config"
	"github.com/jwalitptl/stockalert-api/internal/handler/health"
	notificationHandler "github.com/jwalitptl/stockalert-api/internal/handler/notification"
	promhandler "github.com/jwalitptl/stockalert-api/internal/handler/prometheus"
	smsHandler "github.com/jwalitptl/stockalert-api/internal/handler/sms"
	timezoneHandler "github.com/jwalitptl/stockalert-api/internal/handler/timezone"
	"github.com/jwalitptl/stockalert-api/internal/middleware"
	"github.com/jwalitptl/stockalert-api/internal/router"
	"github.com/jwalitptl/stockalert-api/pkg/auth"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/metrics"
)

const accessTokenTTL = time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})
	log.Logger = *appLogger.Zerolog()

	if err := cfg.Secrets.RequireCron(); err != nil {
		appLogger.Warn("Cron trigger will answer 500 until the secret is set", "error", err.Error())
	}
	if err := cfg.Secrets.RequireProviders(); err != nil {
		appLogger.Warn("Delivery providers are not fully configured", "error", err.Error())
	}

	ctx := context.Background()
	m := metrics.NewMetrics("stockalert", "")

	a, err := app.New(ctx, cfg, appLogger, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer a.Close()

	authMiddleware := middleware.NewAuthMiddleware(auth.NewJWTService(cfg.Secrets.JWTSecret, accessTokenTTL))

	notifications := notificationHandler.NewHandler(a.Dispatch, a.Notifications, a.TestLimiter, cfg.Secrets.RequireProviders)
	inbound := smsHandler.NewHandler(a.Inbound, cfg.Secrets.TwilioAuthToken, cfg.Server.PublicURL)
	timezones := timezoneHandler.NewHandler(a.Timezones)

	r := router.NewRouter(
		authMiddleware,
		health.NewHandler(a.HealthChecks()),
		promhandler.New("stockalert", prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
		router.RouterConfig{
			Mode:       cfg.Server.Mode,
			RateLimit:  cfg.RateLimit.RequestsPerSecond,
			RateBurst:  cfg.RateLimit.Burst,
			Timeout:    time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			CronSecret: cfg.Secrets.CronSecret,
		},
	)
	r.Setup(router.Routes{
		Cron:    []router.CronHandler{notifications},
		Webhook: []router.Handler{inbound},
		Public:  []router.Handler{timezones},
		User:    []router.Handler{notifications},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	// A scheduled run may be mid-flight; give it time to finish its claims.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
