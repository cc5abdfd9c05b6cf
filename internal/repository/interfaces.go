package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/stockalert-api/internal/model"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("not found")

// All repository interfaces in one file
type (
	// ProfileRepository reads and updates the notification fields of users.
	ProfileRepository interface {
		GetByID(ctx context.Context, id uuid.UUID) (*model.NotificationProfile, error)
		GetByPhone(ctx context.Context, countryCode, number string) (*model.NotificationProfile, error)
		// ListDue returns users with the daily digest enabled and next_send_at <= ref.
		ListDue(ctx context.Context, ref time.Time, limit int) ([]*model.NotificationProfile, error)
		UpdateNextSendAt(ctx context.Context, id uuid.UUID, next *time.Time) error
		SetSMSOptOut(ctx context.Context, id uuid.UUID, optedOut bool) error
	}

	StockRepository interface {
		ListTracked(ctx context.Context, userID uuid.UUID) ([]model.TrackedStock, error)
	}

	// ClaimRepository owns the scheduled_notifications table.
	ClaimRepository interface {
		// Claim inserts or re-arms the slot in one statement. The bool is false when
		// the slot was already sent, is held by a live claim, or has no attempts left.
		Claim(ctx context.Context, key model.ClaimKey, maxAttempts int, lease time.Duration) (*model.ScheduledNotification, bool, error)
		Get(ctx context.Context, key model.ClaimKey) (*model.ScheduledNotification, error)
		MarkSent(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	}

	NotificationLogRepository interface {
		Create(ctx context.Context, entry *model.NotificationLog) error
	}

	TimezoneRepository interface {
		ListActive(ctx context.Context) ([]model.Timezone, error)
	}
)
