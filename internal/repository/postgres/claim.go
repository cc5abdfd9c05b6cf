package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
)

const claimColumns = `
	id, user_id, notification_type,
	to_char(scheduled_date, 'YYYY-MM-DD') AS scheduled_date,
	channel, status, attempt_count, error, sent_at, created_at, updated_at`

type claimRepository struct {
	BaseRepository
}

func NewClaimRepository(base BaseRepository) repository.ClaimRepository {
	return &claimRepository{base}
}

// Claim takes the slot when it is new, when the last attempt failed with attempts
// left, or when a pending claim has outlived its lease. The conflict arbiter is the
// unique index on (user_id, notification_type, scheduled_date, channel), so two
// concurrent callers cannot both see a returned row for the same attempt.
func (r *claimRepository) Claim(ctx context.Context, key model.ClaimKey, maxAttempts int, lease time.Duration) (*model.ScheduledNotification, bool, error) {
	upsert := `
		INSERT INTO scheduled_notifications (
			id, user_id, notification_type, scheduled_date, channel,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4::date, $5, 'pending', 1, NOW(), NOW())
		ON CONFLICT (user_id, notification_type, scheduled_date, channel) DO UPDATE
		SET attempt_count = scheduled_notifications.attempt_count + 1,
			status = 'pending',
			updated_at = NOW()
		WHERE scheduled_notifications.attempt_count < $6
		AND (
			scheduled_notifications.status = 'failed'
			OR (
				scheduled_notifications.status = 'pending'
				AND scheduled_notifications.updated_at < NOW() - ($7::double precision * INTERVAL '1 second')
			)
		)
		RETURNING ` + claimColumns

	current := `SELECT ` + claimColumns + `
		FROM scheduled_notifications
		WHERE user_id = $1 AND notification_type = $2 AND scheduled_date = $3::date AND channel = $4`

	var (
		claim   model.ScheduledNotification
		granted bool
	)
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &claim, upsert,
			uuid.New(),
			key.UserID,
			key.Type,
			key.ScheduledDate,
			key.Channel,
			maxAttempts,
			lease.Seconds(),
		)
		if err == nil {
			granted = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		// The WHERE clause rejected the update; report the row as it stands.
		return tx.GetContext(ctx, &claim, current, key.UserID, key.Type, key.ScheduledDate, key.Channel)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim notification: %w", err)
	}
	return &claim, granted, nil
}

func (r *claimRepository) Get(ctx context.Context, key model.ClaimKey) (*model.ScheduledNotification, error) {
	query := `SELECT ` + claimColumns + `
		FROM scheduled_notifications
		WHERE user_id = $1 AND notification_type = $2 AND scheduled_date = $3::date AND channel = $4`

	var claim model.ScheduledNotification
	if err := r.db.GetContext(ctx, &claim, query, key.UserID, key.Type, key.ScheduledDate, key.Channel); err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", notFound(err))
	}
	return &claim, nil
}

func (r *claimRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE scheduled_notifications
		SET status = 'sent', sent_at = NOW(), error = NULL, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark claim sent: %w", err)
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("failed to mark claim sent: %w", err)
	}
	return nil
}

func (r *claimRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE scheduled_notifications
		SET status = 'failed', error = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'sent'
	`
	res, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark claim failed: %w", err)
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("failed to mark claim failed: %w", err)
	}
	return nil
}
