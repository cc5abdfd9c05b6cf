package notification

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/stockalert-api/internal/middleware"
	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/ratelimit"
	"github.com/jwalitptl/stockalert-api/internal/service/dispatch"
	notificationService "github.com/jwalitptl/stockalert-api/internal/service/notification"
	"github.com/jwalitptl/stockalert-api/pkg/errors"
	"github.com/jwalitptl/stockalert-api/pkg/httputil"
)

// ProviderCheck reports missing delivery credentials.
type ProviderCheck func() error

type Handler struct {
	dispatcher    dispatch.Service
	notifications notificationService.Service
	limiter       *ratelimit.Limiter
	providers     ProviderCheck
	now           func() time.Time
}

func NewHandler(dispatcher dispatch.Service, notifications notificationService.Service, limiter *ratelimit.Limiter, providers ProviderCheck) *Handler {
	if providers == nil {
		providers = func() error { return nil }
	}
	return &Handler{
		dispatcher:    dispatcher,
		notifications: notifications,
		limiter:       limiter,
		providers:     providers,
		now:           time.Now,
	}
}

// RegisterCronRoutes mounts the scheduler trigger. The group must carry the cron secret check.
func (h *Handler) RegisterCronRoutes(r *gin.RouterGroup) {
	r.POST("/notifications/scheduled", h.RunScheduled)
}

// RegisterRoutes mounts the signed-in user endpoints. The group must authenticate.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("/test", h.SendTest)
		notifications.POST("/preview", h.Preview)
	}
}

func (h *Handler) RunScheduled(c *gin.Context) {
	if err := h.providers(); err != nil {
		log.Error().Err(err).Msg("Delivery providers are not configured")
		httputil.RespondWithError(c, errors.NewMisconfigured(err))
		return
	}

	stats, err := h.dispatcher.Run(c.Request.Context(), h.now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Scheduled dispatch failed")
		httputil.RespondWithError(c, errors.NewInternal(err))
		return
	}

	httputil.RespondWithSuccess(c, stats)
}

type testRequest struct {
	Type model.Channel `json:"type"`
}

func (h *Handler) SendTest(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		httputil.AbortWithError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if res := h.limiter.Allow(c.Request.Context(), userID.String()); !res.Allowed {
		c.Header("Retry-After", ratelimit.RetryAfterHeader(res.RetryAfter))
		httputil.AbortWithError(c, http.StatusTooManyRequests, ratelimit.RetryMessage(res.RetryAfter))
		return
	}

	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.AbortWithError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !req.Type.Valid() {
		httputil.AbortWithError(c, http.StatusBadRequest, "Invalid notification type")
		return
	}

	result, err := h.notifications.SendTest(c.Request.Context(), userID, req.Type)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !result.Delivered {
		label := "email"
		if req.Type == model.ChannelSMS {
			label = "SMS"
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, httputil.Response{
			Success: false,
			Data:    result,
			Error: &httputil.Error{
				Code:    http.StatusBadGateway,
				Message: "Failed to send " + label,
			},
		})
		return
	}

	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) Preview(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		httputil.AbortWithError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	preview, err := h.notifications.Preview(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, preview)
}
