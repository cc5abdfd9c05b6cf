package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/stockalert-api/internal/email"
	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
	"github.com/jwalitptl/stockalert-api/internal/schedule"
	"github.com/jwalitptl/stockalert-api/internal/sms"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/messaging"
	"github.com/jwalitptl/stockalert-api/pkg/metrics"
)

const (
	defaultBatchSize     = 500
	defaultConcurrency   = 8
	defaultSettleTimeout = 30 * time.Second

	userErrorMessage = "Error processing notification"
)

type Config struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	ClaimLease  time.Duration
	// SettleTimeout bounds the work that follows a granted claim (send, log, mark,
	// reschedule). That work is detached from run cancellation.
	SettleTimeout time.Duration
}

// Dependencies groups the collaborators of the dispatch pipeline.
type Dependencies struct {
	Profiles   repository.ProfileRepository
	Stocks     repository.StockRepository
	Claims     repository.ClaimRepository
	Logs       repository.NotificationLogRepository
	Email      email.Sender
	SMS        sms.Sender
	Calculator *schedule.Calculator
	Publisher  messaging.Publisher
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

// Service runs the daily digest pipeline.
type Service interface {
	// Run processes every user due at ref and returns the aggregated counts. Only a
	// failure to list due users is returned as an error.
	Run(ctx context.Context, ref time.Time) (model.DispatchStats, error)
}

type service struct {
	profiles  repository.ProfileRepository
	stocks    repository.StockRepository
	logs      repository.NotificationLogRepository
	claims    *Coordinator
	email     email.Sender
	sms       sms.Sender
	calc      *schedule.Calculator
	publisher messaging.Publisher
	logger    *logger.Logger
	metrics   *metrics.Metrics
	cfg       Config
}

func NewService(deps Dependencies, cfg Config) Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("stockalert")
	}
	if deps.Calculator == nil {
		deps.Calculator = schedule.NewCalculator(nil)
	}
	if deps.Publisher == nil {
		deps.Publisher = messaging.NopPublisher{}
	}

	return &service{
		profiles:  deps.Profiles,
		stocks:    deps.Stocks,
		logs:      deps.Logs,
		claims:    NewCoordinator(deps.Claims, cfg.MaxAttempts, cfg.ClaimLease, deps.Logger, deps.Metrics),
		email:     deps.Email,
		sms:       deps.SMS,
		calc:      deps.Calculator,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		cfg:       cfg,
	}
}

func (s *service) Run(ctx context.Context, ref time.Time) (model.DispatchStats, error) {
	start := time.Now()
	defer func() {
		s.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}()

	users, err := s.profiles.ListDue(ctx, ref, s.cfg.BatchSize)
	s.metrics.ObserveDB("list_due", err)
	if err != nil {
		s.metrics.DispatchRuns.WithLabelValues("error").Inc()
		return model.DispatchStats{}, fmt.Errorf("failed to fetch due users: %w", err)
	}

	results := make([]model.DispatchStats, len(users))

	// processUser never fails; the group only bounds concurrency.
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i, user := range users {
		g.Go(func() error {
			results[i] = s.processUser(ctx, user, ref)
			return nil
		})
	}
	_ = g.Wait()

	total := model.Aggregate(results...)
	s.metrics.DispatchRuns.WithLabelValues("success").Inc()
	s.logger.Info("Dispatch run completed",
		"due_users", len(users),
		"users_processed", total.UsersProcessed,
		"skipped", total.Skipped,
		"emails_sent", total.EmailsSent,
		"emails_failed", total.EmailsFailed,
		"sms_sent", total.SMSSent,
		"sms_failed", total.SMSFailed,
		"claims_denied", total.ClaimsDenied,
		"log_failures", total.LogFailures,
		"duration", time.Since(start).String(),
	)
	return total, nil
}

// processUser handles one user end to end. Nothing escapes it: errors and panics
// become a skip plus a best-effort log entry.
func (s *service) processUser(ctx context.Context, p *model.NotificationProfile, ref time.Time) (stats model.DispatchStats) {
	if !IsDue(p, ref) || ctx.Err() != nil {
		return stats
	}
	stats.UsersProcessed = 1

	var attempting model.Channel
	defer func() {
		if r := recover(); r != nil {
			stats = s.userFailed(ctx, p, attempting, fmt.Errorf("panic: %v", r), stats)
		}
	}()

	channels := EligibleChannels(p)
	if len(channels) == 0 {
		stats.Skipped++
		s.metrics.UsersSkipped.Inc()
		s.reschedule(ctx, p, ref, &stats)
		return stats
	}

	stocks := &stockLoader{repo: s.stocks, metrics: s.metrics, userID: p.ID}
	date := s.localDate(p, ref)
	for _, ch := range channels {
		if ctx.Err() != nil {
			// Remaining channels are claimed on the next run; the user stays due.
			s.logger.Warn("Dispatch cancelled mid-user, leaving user due",
				"user_id", p.ID.String(),
				"channel", string(ch),
			)
			return stats
		}
		attempting = ch
		if err := s.deliver(ctx, p, ch, date, stocks, &stats); err != nil {
			return s.userFailed(ctx, p, ch, err, stats)
		}
	}

	s.reschedule(ctx, p, ref, &stats)
	return stats
}

// stockLoader reads a user's tracked stocks once, on the first granted claim.
type stockLoader struct {
	repo    repository.StockRepository
	metrics *metrics.Metrics
	userID  uuid.UUID
	stocks  []model.TrackedStock
	loaded  bool
}

func (l *stockLoader) Load(ctx context.Context) ([]model.TrackedStock, error) {
	if l.loaded {
		return l.stocks, nil
	}
	stocks, err := l.repo.ListTracked(ctx, l.userID)
	l.metrics.ObserveDB("list_tracked", err)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked stocks: %w", err)
	}
	l.stocks, l.loaded = stocks, true
	return stocks, nil
}

// localDate is the claim date. An unresolvable zone falls back to the UTC date; the
// reschedule step then parks the user.
func (s *service) localDate(p *model.NotificationProfile, ref time.Time) string {
	date, err := s.calc.LocalDate(ref, p.TimezoneName())
	if err != nil {
		s.logger.Warn("Falling back to UTC date for claim",
			"user_id", p.ID.String(),
			"timezone", p.TimezoneName(),
			"error", err.Error(),
		)
		return ref.UTC().Format(schedule.DateLayout)
	}
	return date
}

// detach returns a context that survives cancellation of ctx but is bounded by the
// settle timeout.
func (s *service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SettleTimeout)
}

// deliver claims, sends, logs and settles one channel. Claim store errors and stock
// load failures are returned; everything after a send is recorded, not propagated.
//
// A granted claim is settled on a detached context. An unsettled pending claim is
// re-granted once its lease expires.
func (s *service) deliver(ctx context.Context, p *model.NotificationProfile, ch model.Channel, date string, stocks *stockLoader, stats *model.DispatchStats) error {
	key := model.ClaimKey{
		UserID:        p.ID,
		Type:          model.NotificationTypeDailyDigest,
		ScheduledDate: date,
		Channel:       ch,
	}
	claim, outcome, err := s.claims.Claim(ctx, key)
	if err != nil {
		return err
	}
	if !outcome.Granted() {
		stats.ClaimsDenied++
		return nil
	}

	settleCtx, cancel := s.detach(ctx)
	defer cancel()

	list, err := stocks.Load(settleCtx)
	if err != nil {
		// Counts as an attempt, so a persistent read failure is bounded by the claim cap.
		if markErr := s.claims.MarkFailed(settleCtx, claim, err.Error()); markErr != nil {
			s.logFailure(stats, markErr, "Failed to settle claim", p.ID, ch)
		}
		return err
	}

	message, result := s.send(settleCtx, p, ch, list)
	stats.RecordDelivery(ch, result.Success)
	s.metrics.Deliveries.WithLabelValues(string(ch), outcomeLabel(result)).Inc()

	entry := &model.NotificationLog{
		UserID:           p.ID,
		Type:             model.NotificationTypeDailyDigest,
		DeliveryMethod:   ch,
		MessageDelivered: result.Success,
		Message:          message,
		Error:            model.StringPtr(result.Error),
		ErrorCode:        model.StringPtr(result.ErrorCode),
	}
	if err := s.logs.Create(settleCtx, entry); err != nil {
		s.logFailure(stats, err, "Failed to write notification log", p.ID, ch)
	}

	if result.Success {
		err = s.claims.MarkSent(settleCtx, claim)
	} else {
		err = s.claims.MarkFailed(settleCtx, claim, result.Error)
	}
	if err != nil {
		s.logFailure(stats, err, "Failed to settle claim", p.ID, ch)
	}

	s.publish(settleCtx, entry)
	return nil
}

// send renders and delivers one channel. Sender errors and panics become failed results.
func (s *service) send(ctx context.Context, p *model.NotificationProfile, ch model.Channel, stocks []model.TrackedStock) (message string, result model.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			result = model.DeliveryFailed(fmt.Sprintf("sender panic: %v", r), "sender_panic")
		}
	}()

	var err error
	switch ch {
	case model.ChannelEmail:
		var msg email.Message
		msg, err = RenderEmail(p.EmailAddress(), stocks)
		if err != nil {
			return "", model.DeliveryFailed(err.Error(), "render_failed")
		}
		message = msg.TextBody
		if s.email == nil {
			return message, model.DeliveryFailed("email sender not configured", "provider_unavailable")
		}
		result, err = s.email.Send(ctx, msg)
	case model.ChannelSMS:
		message = RenderSMS(stocks)
		if s.sms == nil {
			return message, model.DeliveryFailed("SMS service unavailable", "provider_unavailable")
		}
		result, err = s.sms.Send(ctx, sms.Message{To: p.E164Phone(), Body: message})
	default:
		return "", model.DeliveryFailed(fmt.Sprintf("unsupported channel %q", ch), "unsupported_channel")
	}

	if err != nil {
		return message, model.DeliveryFailed(err.Error(), "")
	}
	return message, result
}

// reschedule persists the next fire instant, or null when the user cannot be scheduled.
func (s *service) reschedule(ctx context.Context, p *model.NotificationProfile, ref time.Time, stats *model.DispatchStats) {
	minutes := -1
	if p.DailyDigestTime != nil {
		minutes = *p.DailyDigestTime
	}

	next := s.calc.NextFireInstant(minutes, p.TimezoneName(), ref)
	if next == nil {
		s.logger.Warn("User cannot be scheduled, clearing next_send_at",
			"user_id", p.ID.String(),
			"timezone", p.TimezoneName(),
			"minutes", minutes,
		)
	}

	updateCtx, cancel := s.detach(ctx)
	defer cancel()
	err := s.profiles.UpdateNextSendAt(updateCtx, p.ID, next)
	s.metrics.ObserveDB("update_next_send_at", err)
	if err != nil {
		s.logFailure(stats, err, "Failed to reschedule user", p.ID, "")
	}
}

func (s *service) userFailed(ctx context.Context, p *model.NotificationProfile, ch model.Channel, cause error, stats model.DispatchStats) model.DispatchStats {
	stats.Skipped++
	s.metrics.UsersSkipped.Inc()
	s.logger.Error(cause, "Error processing user", "user_id", p.ID.String())

	if ch == "" {
		ch = model.ChannelSMS
		if p.EmailNotificationsEnabled {
			ch = model.ChannelEmail
		}
	}

	entry := &model.NotificationLog{
		UserID:         p.ID,
		Type:           model.NotificationTypeDailyDigest,
		DeliveryMethod: ch,
		Message:        userErrorMessage,
		Error:          model.StringPtr(cause.Error()),
	}
	logCtx, cancel := s.detach(ctx)
	defer cancel()
	if err := s.logs.Create(logCtx, entry); err != nil {
		s.logFailure(&stats, err, "Failed to record processing error", p.ID, ch)
	}
	return stats
}

func (s *service) logFailure(stats *model.DispatchStats, err error, msg string, userID uuid.UUID, ch model.Channel) {
	stats.LogFailures++
	s.metrics.LogFailures.Inc()
	s.logger.Error(err, msg, "user_id", userID.String(), "channel", string(ch))
}

func (s *service) publish(ctx context.Context, entry *model.NotificationLog) {
	event := model.DeliveryEvent{
		ID:         uuid.New(),
		UserID:     entry.UserID,
		Type:       entry.Type,
		Channel:    entry.DeliveryMethod,
		Delivered:  entry.MessageDelivered,
		OccurredAt: time.Now().UTC(),
	}
	if entry.ErrorCode != nil {
		event.ErrorCode = *entry.ErrorCode
	}
	if err := s.publisher.Publish(ctx, messaging.ChannelDeliveries, event); err != nil {
		s.logger.Warn("Failed to publish delivery event", "user_id", entry.UserID.String(), "error", err.Error())
	}
}

func outcomeLabel(r model.DeliveryResult) string {
	if r.Success {
		return "sent"
	}
	return "failed"
}
