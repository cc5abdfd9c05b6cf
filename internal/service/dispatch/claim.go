package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultClaimLease  = 10 * time.Minute
)

// ClaimOutcome says whether a slot was taken and, if not, why.
type ClaimOutcome string

const (
	ClaimGranted     ClaimOutcome = "granted"
	ClaimAlreadySent ClaimOutcome = "already_sent"
	ClaimInFlight    ClaimOutcome = "in_flight"
	ClaimExhausted   ClaimOutcome = "exhausted"
)

func (o ClaimOutcome) Granted() bool {
	return o == ClaimGranted
}

// Coordinator guarantees at most one successful delivery per ClaimKey and caps
// attempts. All arbitration happens in the store; the coordinator only interprets.
type Coordinator struct {
	repo        repository.ClaimRepository
	maxAttempts int
	lease       time.Duration
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewCoordinator(repo repository.ClaimRepository, maxAttempts int, lease time.Duration, log *logger.Logger, m *metrics.Metrics) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &Coordinator{
		repo:        repo,
		maxAttempts: maxAttempts,
		lease:       lease,
		logger:      log,
		metrics:     m,
		now:         time.Now,
	}
}

// Claim returns the claim record and the outcome. A store failure is an error,
// never a denial.
func (c *Coordinator) Claim(ctx context.Context, key model.ClaimKey) (*model.ScheduledNotification, ClaimOutcome, error) {
	claim, granted, err := c.repo.Claim(ctx, key, c.maxAttempts, c.lease)
	c.metrics.ObserveDB("claim", err)
	if err != nil {
		return nil, "", fmt.Errorf("claim %s/%s/%s: %w", key.UserID, key.Channel, key.ScheduledDate, err)
	}
	if granted {
		return claim, ClaimGranted, nil
	}

	outcome := c.denialReason(claim)
	c.metrics.ClaimsDenied.WithLabelValues(string(outcome)).Inc()

	if outcome == ClaimExhausted {
		c.logger.Warn("Notification attempts exhausted",
			"user_id", key.UserID.String(),
			"channel", string(key.Channel),
			"scheduled_date", key.ScheduledDate,
			"attempts", claim.AttemptCount,
			"last_error", derefString(claim.Error),
		)
	} else {
		c.logger.Debug("Claim denied",
			"user_id", key.UserID.String(),
			"channel", string(key.Channel),
			"reason", string(outcome),
		)
	}
	return claim, outcome, nil
}

func (c *Coordinator) denialReason(claim *model.ScheduledNotification) ClaimOutcome {
	switch {
	case claim == nil:
		return ClaimInFlight
	case claim.Status == model.ClaimStatusSent:
		return ClaimAlreadySent
	case claim.Status == model.ClaimStatusPending && c.now().Sub(claim.UpdatedAt) < c.lease:
		// Another run holds the slot; its attempt may still succeed.
		return ClaimInFlight
	case claim.AttemptCount >= c.maxAttempts:
		return ClaimExhausted
	default:
		return ClaimInFlight
	}
}

func (c *Coordinator) MarkSent(ctx context.Context, claim *model.ScheduledNotification) error {
	err := c.repo.MarkSent(ctx, claim.ID)
	c.metrics.ObserveDB("claim_mark_sent", err)
	return err
}

func (c *Coordinator) MarkFailed(ctx context.Context, claim *model.ScheduledNotification, reason string) error {
	err := c.repo.MarkFailed(ctx, claim.ID, reason)
	c.metrics.ObserveDB("claim_mark_failed", err)
	return err
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
