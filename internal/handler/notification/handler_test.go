package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/stockalert-api/internal/middleware"
	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/ratelimit"
	notificationService "github.com/jwalitptl/stockalert-api/internal/service/notification"
	"github.com/jwalitptl/stockalert-api/pkg/errors"
	"github.com/jwalitptl/stockalert-api/pkg/httputil"
)

type mockNotifications struct{ mock.Mock }

func (m *mockNotifications) SendTest(ctx context.Context, userID uuid.UUID, ch model.Channel) (*notificationService.TestResult, error) {
	args := m.Called(ctx, userID, ch)
	res, _ := args.Get(0).(*notificationService.TestResult)
	return res, args.Error(1)
}

func (m *mockNotifications) Preview(ctx context.Context, userID uuid.UUID) (*notificationService.Preview, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*notificationService.Preview)
	return res, args.Error(1)
}

// exhaustedCounters reports every key as already over quota.
type exhaustedCounters struct{}

func (exhaustedCounters) Incr(context.Context, string) *redis.IntCmd {
	return redis.NewIntResult(6, nil)
}

func (exhaustedCounters) Expire(context.Context, string, time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (exhaustedCounters) TTL(context.Context, string) *redis.DurationCmd {
	return redis.NewDurationResult(1500*time.Millisecond, nil)
}

func setupRouter(h *Handler, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/api/v1")
	group.Use(func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(middleware.ContextUserID, userID)
		}
		c.Next()
	})
	h.RegisterRoutes(group)
	return r
}

func postTest(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Message
}

func TestSendTest_Validation(t *testing.T) {
	svc := new(mockNotifications)
	r := setupRouter(NewHandler(nil, svc, nil, nil), uuid.New())

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"malformed json", `{"type":`, "Invalid JSON"},
		{"missing type", `{}`, "Invalid notification type"},
		{"unknown type", `{"type":"push"}`, "Invalid notification type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postTest(r, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, errorMessage(t, w))
		})
	}
	svc.AssertNotCalled(t, "SendTest", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendTest_RateLimited(t *testing.T) {
	svc := new(mockNotifications)
	limiter := ratelimit.NewLimiter(exhaustedCounters{}, "test-notification:", 5, time.Hour, nil, nil)
	r := setupRouter(NewHandler(nil, svc, limiter, nil), uuid.New())

	w := postTest(r, `{"type":"email"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded. Try again in 2 seconds.", errorMessage(t, w))
	svc.AssertNotCalled(t, "SendTest", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendTest_Unauthenticated(t *testing.T) {
	r := setupRouter(NewHandler(nil, new(mockNotifications), nil, nil), uuid.Nil)

	w := postTest(r, `{"type":"email"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendTest_Outcomes(t *testing.T) {
	userID := uuid.New()

	t.Run("delivered", func(t *testing.T) {
		svc := new(mockNotifications)
		svc.On("SendTest", mock.Anything, userID, model.ChannelEmail).
			Return(&notificationService.TestResult{Channel: model.ChannelEmail, Delivered: true, Logged: true}, nil).Once()

		w := postTest(setupRouter(NewHandler(nil, svc, nil, nil), userID), `{"type":"email"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("provider failure", func(t *testing.T) {
		svc := new(mockNotifications)
		svc.On("SendTest", mock.Anything, userID, model.ChannelSMS).
			Return(&notificationService.TestResult{Channel: model.ChannelSMS, Error: "unreachable", ErrorCode: "30003"}, nil).Once()

		w := postTest(setupRouter(NewHandler(nil, svc, nil, nil), userID), `{"type":"sms"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "Failed to send SMS", errorMessage(t, w))
		assert.Contains(t, w.Body.String(), `"errorCode":"30003"`)
	})

	t.Run("not eligible", func(t *testing.T) {
		svc := new(mockNotifications)
		svc.On("SendTest", mock.Anything, userID, model.ChannelSMS).
			Return(nil, errors.NewBadRequest("SMS notifications are not available for this account", nil)).Once()

		w := postTest(setupRouter(NewHandler(nil, svc, nil, nil), userID), `{"type":"sms"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "SMS notifications are not available for this account", errorMessage(t, w))
	})
}

func TestPreview(t *testing.T) {
	userID := uuid.New()
	svc := new(mockNotifications)
	svc.On("Preview", mock.Anything, userID).
		Return(&notificationService.Preview{SMS: "Tracked: AAPL. Reply STOP to opt out."}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/preview", nil)
	setupRouter(NewHandler(nil, svc, nil, nil), userID).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Reply STOP to opt out.")
}
