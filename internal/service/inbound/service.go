// Package inbound applies carrier keyword commands (STOP, START, HELP) sent by users
// to the dispatcher's phone number.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/jwalitptl/stockalert-api/internal/repository"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/messaging"
	"github.com/jwalitptl/stockalert-api/pkg/metrics"
)

type Command string

const (
	CommandStop    Command = "stop"
	CommandStart   Command = "start"
	CommandHelp    Command = "help"
	CommandUnknown Command = "unknown"
)

const (
	ReplyStop       = "You have been unsubscribed from SMS notifications. Reply START to resume."
	ReplyStart      = "You have been subscribed to SMS notifications. Reply STOP to unsubscribe."
	ReplyHelp       = "StockTextDashboard: Reply STOP to unsubscribe, START to subscribe. Msg & data rates may apply. Help: reply HELP or visit your dashboard."
	ReplyUnknown    = "Unknown command. Reply HELP for options."
	ReplyUnverified = "Phone number not verified. Please verify your phone number first."
)

var (
	ErrInvalidPhone = errors.New("invalid phone format")
	ErrUpdateFailed = errors.New("failed to update preferences")
)

var (
	stopRE  = regexp.MustCompile(`\b(STOP|STOPALL|UNSUBSCRIBE|CANCEL|END|QUIT)\b`)
	startRE = regexp.MustCompile(`\b(START|SUBSCRIBE|YES|UNSTOP)\b`)
	helpRE  = regexp.MustCompile(`\b(HELP|INFO)\b`)
)

// ParseCommand matches whole keywords, case-insensitively. STOP wins over START,
// which wins over HELP.
func ParseCommand(body string) Command {
	text := strings.ToUpper(strings.TrimSpace(body))
	switch {
	case stopRE.MatchString(text):
		return CommandStop
	case startRE.MatchString(text):
		return CommandStart
	case helpRE.MatchString(text):
		return CommandHelp
	default:
		return CommandUnknown
	}
}

// ParsePhone splits an E.164 sender address into "+CC" and the national number,
// the form phone numbers are stored in.
func ParsePhone(from string) (countryCode, national string, err error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(from), "")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	national = phonenumbers.GetNationalSignificantNumber(num)
	if num.GetCountryCode() == 0 || national == "" {
		return "", "", ErrInvalidPhone
	}
	return fmt.Sprintf("+%d", num.GetCountryCode()), national, nil
}

// PreferenceChange is published when a command flips a user's SMS opt-out flag.
type PreferenceChange struct {
	UserID      uuid.UUID `json:"user_id"`
	SMSOptedOut bool      `json:"sms_opted_out"`
	Command     Command   `json:"command"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Service interface {
	// HandleMessage returns the reply text. An empty reply means no response should
	// be sent. ErrInvalidPhone and ErrUpdateFailed are the only errors.
	HandleMessage(ctx context.Context, from, body string) (string, error)
}

type service struct {
	profiles  repository.ProfileRepository
	publisher messaging.Publisher
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(profiles repository.ProfileRepository, publisher messaging.Publisher, log *logger.Logger, m *metrics.Metrics) Service {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New("stockalert")
	}
	return &service{
		profiles:  profiles,
		publisher: publisher,
		logger:    log,
		metrics:   m,
	}
}

func (s *service) HandleMessage(ctx context.Context, from, body string) (string, error) {
	countryCode, national, err := ParsePhone(from)
	if err != nil {
		return "", err
	}

	user, err := s.profiles.GetByPhone(ctx, countryCode, national)
	s.metrics.ObserveDB("get_by_phone", ignoreNotFound(err))
	if err != nil {
		// Unknown senders get no reply, and lookup failures look the same to them.
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error(err, "Inbound SMS user lookup failed", "country_code", countryCode)
		}
		return "", nil
	}

	if !user.PhoneVerified {
		return ReplyUnverified, nil
	}

	cmd := ParseCommand(body)
	s.metrics.InboundCommands.WithLabelValues(string(cmd)).Inc()

	switch cmd {
	case CommandStop:
		if err := s.setOptOut(ctx, user.ID, true, cmd); err != nil {
			return "", err
		}
		return ReplyStop, nil
	case CommandStart:
		if err := s.setOptOut(ctx, user.ID, false, cmd); err != nil {
			return "", err
		}
		return ReplyStart, nil
	case CommandHelp:
		return ReplyHelp, nil
	default:
		return ReplyUnknown, nil
	}
}

// setOptOut writes the flag unconditionally so repeated commands converge.
func (s *service) setOptOut(ctx context.Context, userID uuid.UUID, optedOut bool, cmd Command) error {
	err := s.profiles.SetSMSOptOut(ctx, userID, optedOut)
	s.metrics.ObserveDB("set_sms_opt_out", err)
	if err != nil {
		s.logger.Error(err, "Failed to update SMS opt-out", "user_id", userID.String(), "opted_out", optedOut)
		return fmt.Errorf("%w: %v", ErrUpdateFailed, err)
	}

	s.logger.Info("SMS preference updated", "user_id", userID.String(), "opted_out", optedOut)

	change := PreferenceChange{
		UserID:      userID,
		SMSOptedOut: optedOut,
		Command:     cmd,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, messaging.ChannelPreferences, change); err != nil {
		s.logger.Warn("Failed to publish preference change", "user_id", userID.String(), "error", err.Error())
	}
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
