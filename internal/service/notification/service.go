package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/stockalert-api/internal/email"
	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
	"github.com/jwalitptl/stockalert-api/internal/service/dispatch"
	"github.com/jwalitptl/stockalert-api/internal/sms"
	"github.com/jwalitptl/stockalert-api/pkg/errors"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/messaging"
)

// TestResult is returned to the dashboard after an on-demand send.
type TestResult struct {
	Channel   model.Channel `json:"type"`
	Delivered bool          `json:"delivered"`
	Logged    bool          `json:"logged"`
	Error     string        `json:"error,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`
}

// Preview is the digest as it would be sent right now.
type Preview struct {
	Stocks     []model.TrackedStock `json:"stocks"`
	Email      EmailPreview         `json:"email"`
	SMS        string               `json:"sms"`
	NextSendAt *time.Time           `json:"nextSendAt,omitempty"`
}

type EmailPreview struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Service sends and previews digests for a single signed-in user. Test sends bypass
// the claim table and are logged with type "test".
type Service interface {
	SendTest(ctx context.Context, userID uuid.UUID, ch model.Channel) (*TestResult, error)
	Preview(ctx context.Context, userID uuid.UUID) (*Preview, error)
}

type service struct {
	profiles  repository.ProfileRepository
	stocks    repository.StockRepository
	logs      repository.NotificationLogRepository
	emailSvc  email.Sender
	smsSvc    sms.Sender
	publisher messaging.Publisher
	logger    *logger.Logger
}

func NewService(
	profiles repository.ProfileRepository,
	stocks repository.StockRepository,
	logs repository.NotificationLogRepository,
	emailSvc email.Sender,
	smsSvc sms.Sender,
	publisher messaging.Publisher,
	log *logger.Logger,
) Service {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &service{
		profiles:  profiles,
		stocks:    stocks,
		logs:      logs,
		emailSvc:  emailSvc,
		smsSvc:    smsSvc,
		publisher: publisher,
		logger:    log,
	}
}

func (s *service) SendTest(ctx context.Context, userID uuid.UUID, ch model.Channel) (*TestResult, error) {
	if !ch.Valid() {
		return nil, errors.NewBadRequest("Invalid notification type", nil)
	}

	user, stocks, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		message string
		result  model.DeliveryResult
	)
	switch ch {
	case model.ChannelEmail:
		if !dispatch.IsEmailEligible(user) {
			return nil, errors.NewBadRequest("Email notifications are not enabled", nil)
		}
		msg, err := dispatch.RenderEmail(user.EmailAddress(), stocks)
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("render email: %w", err))
		}
		message = msg.TextBody
		result, err = s.emailSvc.Send(ctx, msg)
		if err != nil {
			result = model.DeliveryFailed(err.Error(), "")
		}
	case model.ChannelSMS:
		if !dispatch.IsSMSEligible(user) {
			return nil, errors.NewBadRequest("SMS notifications are not available for this account", nil)
		}
		message = dispatch.RenderSMS(stocks)
		result, err = s.smsSvc.Send(ctx, sms.Message{To: user.E164Phone(), Body: message})
		if err != nil {
			result = model.DeliveryFailed(err.Error(), "")
		}
	}

	entry := &model.NotificationLog{
		UserID:           user.ID,
		Type:             model.NotificationTypeTest,
		DeliveryMethod:   ch,
		MessageDelivered: result.Success,
		Message:          message,
		Error:            model.StringPtr(result.Error),
		ErrorCode:        model.StringPtr(result.ErrorCode),
	}
	logged := true
	if err := s.logs.Create(ctx, entry); err != nil {
		logged = false
		s.logger.Error(err, "Failed to log test notification", "user_id", userID.String(), "channel", string(ch))
	}

	event := model.DeliveryEvent{
		ID:         uuid.New(),
		UserID:     user.ID,
		Type:       model.NotificationTypeTest,
		Channel:    ch,
		Delivered:  result.Success,
		ErrorCode:  result.ErrorCode,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, messaging.ChannelDeliveries, event); err != nil {
		s.logger.Warn("Failed to publish delivery event", "user_id", userID.String(), "error", err.Error())
	}

	return &TestResult{
		Channel:   ch,
		Delivered: result.Success,
		Logged:    logged,
		Error:     result.Error,
		ErrorCode: result.ErrorCode,
	}, nil
}

func (s *service) Preview(ctx context.Context, userID uuid.UUID) (*Preview, error) {
	user, stocks, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	msg, err := dispatch.RenderEmail(user.EmailAddress(), stocks)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("render email: %w", err))
	}

	if stocks == nil {
		stocks = []model.TrackedStock{}
	}
	return &Preview{
		Stocks: stocks,
		Email: EmailPreview{
			Subject: msg.Subject,
			Text:    msg.TextBody,
			HTML:    msg.HTMLBody,
		},
		SMS:        dispatch.RenderSMS(stocks),
		NextSendAt: user.NextSendAt,
	}, nil
}

func (s *service) load(ctx context.Context, userID uuid.UUID) (*model.NotificationProfile, []model.TrackedStock, error) {
	user, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, errors.NewNotFound("user", err)
		}
		return nil, nil, errors.NewInternal(fmt.Errorf("load user: %w", err))
	}

	stocks, err := s.stocks.ListTracked(ctx, userID)
	if err != nil {
		return nil, nil, errors.NewInternal(fmt.Errorf("failed to load stocks: %w", err))
	}
	return user, stocks, nil
}
