package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/pkg/circuitbreaker"
)

// MaxLength is the single-segment GSM limit the digest is rendered into.
const MaxLength = 160

type Message struct {
	To   string
	Body string
	// From overrides the configured sender number.
	From string
}

// Sender delivers one SMS. Provider rejections come back as a failed DeliveryResult.
type Sender interface {
	Send(ctx context.Context, msg Message) (model.DeliveryResult, error)
}

type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
	// PerSecond caps outbound messages; zero means unlimited.
	PerSecond float64
}

type TwilioSender struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	cb      *circuitbreaker.CircuitBreaker
}

// errUpstream marks failures that should count against the circuit breaker.
var errUpstream = errors.New("twilio unavailable")

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func NewTwilioSender(cfg Config) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	return &TwilioSender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "twilio",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			IsFailure:   func(err error) bool { return errors.Is(err, errUpstream) },
		}),
	}
}

func (s *TwilioSender) Send(ctx context.Context, msg Message) (model.DeliveryResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return model.DeliveryFailed("missing destination number", "invalid_recipient"), nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return model.DeliveryResult{}, fmt.Errorf("sms send cancelled: %w", err)
	}

	from := msg.From
	if from == "" {
		from = s.cfg.From
	}

	var result model.DeliveryResult
	err := s.cb.Execute(func() error {
		var err error
		result, err = s.post(ctx, msg.To, from, msg.Body)
		return err
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return model.DeliveryFailed(err.Error(), "circuit_open"), nil
	case ctx.Err() != nil:
		return model.DeliveryResult{}, fmt.Errorf("sms send cancelled: %w", ctx.Err())
	case err != nil:
		return model.DeliveryFailed(err.Error(), "provider_unavailable"), nil
	}
	return result, nil
}

func (s *TwilioSender) post(ctx context.Context, to, from, body string) (model.DeliveryResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.cfg.BaseURL, "/"), url.PathEscape(s.cfg.AccountSID))

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return model.DeliveryResult{}, fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return model.DeliveryResult{}, fmt.Errorf("%w: %v", errUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return model.DeliveryResult{}, fmt.Errorf("%w: reading response: %v", errUpstream, err)
	}

	if resp.StatusCode >= 500 {
		return model.DeliveryResult{}, fmt.Errorf("%w: status %d", errUpstream, resp.StatusCode)
	}

	if resp.StatusCode >= 300 {
		var apiErr twilioError
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
			return model.DeliveryFailed(fmt.Sprintf("twilio returned status %d", resp.StatusCode), strconv.Itoa(resp.StatusCode)), nil
		}
		code := ""
		if apiErr.Code != 0 {
			code = strconv.Itoa(apiErr.Code)
		}
		return model.DeliveryFailed(apiErr.Message, code), nil
	}

	var created twilioMessage
	if err := json.Unmarshal(raw, &created); err != nil {
		return model.DeliveryFailed(fmt.Sprintf("unreadable twilio response: %v", err), ""), nil
	}
	return model.Delivered(created.SID), nil
}
