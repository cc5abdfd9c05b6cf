package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/stockalert-api/internal/handler/prometheus"
	"github.com/jwalitptl/stockalert-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// CronHandler exposes scheduler-triggered routes.
type CronHandler interface {
	RegisterCronRoutes(*gin.RouterGroup)
}

// HealthHandler is mounted on the engine root.
type HealthHandler interface {
	RegisterRoutes(gin.IRoutes)
}

type Router struct {
	engine  *gin.Engine
	auth    *middleware.AuthMiddleware
	config  RouterConfig
	health  HealthHandler
	metrics *prometheus.Handler
}

type RouterConfig struct {
	Mode       string
	RateLimit  float64
	RateBurst  int
	Timeout    time.Duration
	CronSecret string
}

// Routes groups the handlers by the authentication they need.
type Routes struct {
	// Cron routes require the shared cron secret.
	Cron []CronHandler
	// Webhook routes authenticate themselves (provider signatures).
	Webhook []Handler
	// Public routes need no credentials.
	Public []Handler
	// User routes require a dashboard JWT.
	User []Handler
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	health HealthHandler,
	metrics *prometheus.Handler,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger("/health", "/metrics"),
		middleware.ErrorHandler(),
	)
	if metrics != nil {
		engine.Use(metrics.Middleware())
	}

	return &Router{
		engine:  engine,
		auth:    auth,
		config:  config,
		health:  health,
		metrics: metrics,
	}
}

func (r *Router) Setup(routes Routes) {
	if r.health != nil {
		r.health.RegisterRoutes(r.engine)
	}
	if r.metrics != nil {
		r.engine.GET("/metrics", r.metrics.Handler())
	}

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// A dispatch pass can outlast the request timeout; the caller's own deadline applies.
	cron := api.Group("")
	cron.Use(middleware.CronSecret(r.config.CronSecret))
	for _, h := range routes.Cron {
		h.RegisterCronRoutes(cron)
	}

	limited := api.Group("")
	limited.Use(
		middleware.Timeout(middleware.TimeoutConfig{Duration: r.config.Timeout}),
		middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   r.config.RateLimit,
			Burst: r.config.RateBurst,
		}).RateLimit(),
	)
	for _, h := range routes.Webhook {
		h.RegisterRoutes(limited)
	}
	for _, h := range routes.Public {
		h.RegisterRoutes(limited)
	}

	protected := limited.Group("")
	protected.Use(r.auth.Authenticate())
	for _, h := range routes.User {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
