package email

import (
	"context"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/stockalert-api/internal/model"
)

type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers one email. Provider rejections come back as a failed DeliveryResult;
// the error return is reserved for cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) (model.DeliveryResult, error)
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// PerSecond caps outbound messages; zero means unlimited.
	PerSecond float64
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPSender struct {
	dialer  dialer
	from    string
	domain  string
	limiter *rate.Limiter
}

func NewSMTPSender(cfg Config) *SMTPSender {
	return newSMTPSender(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg)
}

func newSMTPSender(d dialer, cfg Config) *SMTPSender {
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	domain := "localhost"
	if at := strings.LastIndex(cfg.From, "@"); at >= 0 {
		domain = strings.Trim(cfg.From[at+1:], "> ")
	}
	return &SMTPSender{
		dialer:  d,
		from:    cfg.From,
		domain:  domain,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (model.DeliveryResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return model.DeliveryFailed("missing recipient address", "invalid_recipient"), nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return model.DeliveryResult{}, fmt.Errorf("email send cancelled: %w", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return model.DeliveryFailed(err.Error(), smtpCode(err)), nil
	}
	return model.Delivered(messageID), nil
}

// smtpCode extracts the reply code from an SMTP protocol error.
func smtpCode(err error) string {
	if tpErr, ok := err.(*textproto.Error); ok {
		return fmt.Sprintf("smtp_%d", tpErr.Code)
	}
	return "smtp_error"
}
