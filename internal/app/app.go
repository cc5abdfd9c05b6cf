// Package app builds the object graph shared by the API server and the worker.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/stockalert-api/internal/config"
	"github.com/jwalitptl/stockalert-api/internal/email"
	"github.com/jwalitptl/stockalert-api/internal/handler/health"
	"github.com/jwalitptl/stockalert-api/internal/ratelimit"
	"github.com/jwalitptl/stockalert-api/internal/repository"
	"github.com/jwalitptl/stockalert-api/internal/repository/postgres"
	"github.com/jwalitptl/stockalert-api/internal/schedule"
	"github.com/jwalitptl/stockalert-api/internal/service/dispatch"
	"github.com/jwalitptl/stockalert-api/internal/service/inbound"
	notificationService "github.com/jwalitptl/stockalert-api/internal/service/notification"
	"github.com/jwalitptl/stockalert-api/internal/sms"
	"github.com/jwalitptl/stockalert-api/internal/timezone"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/messaging"
	"github.com/jwalitptl/stockalert-api/pkg/messaging/redis"
	"github.com/jwalitptl/stockalert-api/pkg/metrics"
)

const testSendKeyPrefix = "test-notification:"

type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	DB     *sqlx.DB
	Redis  *goredis.Client
	Broker messaging.Broker

	Profiles  repository.ProfileRepository
	Stocks    repository.StockRepository
	Claims    repository.ClaimRepository
	Logs      repository.NotificationLogRepository
	Timezones *timezone.Resolver

	Dispatch      dispatch.Service
	Inbound       inbound.Service
	Notifications notificationService.Service
	TestLimiter   *ratelimit.Limiter
}

// New connects to Postgres and, when enabled, Redis, then wires repositories and
// services. Redis is optional: without it events are dropped and test sends are not
// rate limited.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{Config: cfg, Logger: log, Metrics: m}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis.ToBrokerConfig())
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Redis = client
		a.Broker = redis.NewRedisBroker(client, log.Zerolog())
		a.TestLimiter = ratelimit.NewLimiter(client, testSendKeyPrefix,
			cfg.RateLimit.TestSendsPerHour, cfg.RateLimit.TestSendWindow, log, m)
		publisher = a.Broker
	} else {
		log.Warn("Redis disabled: delivery events are not published and test sends are not rate limited")
	}

	base := postgres.NewBaseRepository(db)
	a.Profiles = postgres.NewProfileRepository(base)
	a.Stocks = postgres.NewStockRepository(base)
	a.Claims = postgres.NewClaimRepository(base)
	a.Logs = postgres.NewNotificationLogRepository(base)
	a.Timezones = timezone.NewResolver(postgres.NewTimezoneRepository(base), timezone.Config{
		TTL:    cfg.Timezones.CacheTTL,
		Buster: cfg.Secrets.TimezoneCacheBuster,
	})

	emailSender := email.NewSMTPSender(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.Secrets.SMTPUsername,
		Password: cfg.Secrets.SMTPPassword,
		From:     cfg.SMTP.From,
	})
	smsSender := sms.NewTwilioSender(sms.Config{
		BaseURL:    cfg.Twilio.BaseURL,
		AccountSID: cfg.Secrets.TwilioAccountSID,
		AuthToken:  cfg.Secrets.TwilioAuthToken,
		From:       cfg.Secrets.TwilioPhoneNumber,
		Timeout:    cfg.Twilio.Timeout,
		PerSecond:  cfg.Twilio.MessagesPerSecond,
	})

	a.Dispatch = dispatch.NewService(dispatch.Dependencies{
		Profiles:   a.Profiles,
		Stocks:     a.Stocks,
		Claims:     a.Claims,
		Logs:       a.Logs,
		Email:      emailSender,
		SMS:        smsSender,
		Calculator: schedule.NewCalculator(a.Timezones.Location),
		Publisher:  publisher,
		Logger:     log,
		Metrics:    m,
	}, dispatch.Config{
		BatchSize:     cfg.Dispatch.BatchSize,
		Concurrency:   cfg.Dispatch.Concurrency,
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		ClaimLease:    cfg.Dispatch.ClaimLease,
		SettleTimeout: cfg.Dispatch.SettleTimeout,
	})
	a.Inbound = inbound.NewService(a.Profiles, publisher, log, m)
	a.Notifications = notificationService.NewService(a.Profiles, a.Stocks, a.Logs, emailSender, smsSender, publisher, log)

	return a, nil
}

// HealthChecks returns the readiness probes for the connected backends.
func (a *App) HealthChecks() map[string]health.Check {
	checks := map[string]health.Check{
		"database": a.DB.PingContext,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (a *App) Close() {
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error(err, "Failed to close Redis client")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error(err, "Failed to close database")
		}
	}
}
