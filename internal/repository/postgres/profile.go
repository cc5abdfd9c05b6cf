package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
)

const profileColumns = `
	id, email, phone_country_code, phone_number,
	email_notifications_enabled, sms_notifications_enabled,
	phone_verified, sms_opted_out, timezone,
	daily_digest_enabled, daily_digest_notification_time, next_send_at`

type profileRepository struct {
	BaseRepository
}

func NewProfileRepository(base BaseRepository) repository.ProfileRepository {
	return &profileRepository{base}
}

func (r *profileRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.NotificationProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE id = $1`

	var p model.NotificationProfile
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", notFound(err))
	}
	return &p, nil
}

func (r *profileRepository) GetByPhone(ctx context.Context, countryCode, number string) (*model.NotificationProfile, error) {
	query := `SELECT ` + profileColumns + `
		FROM users
		WHERE phone_country_code = $1 AND phone_number = $2
		ORDER BY phone_verified DESC
		LIMIT 1`

	var p model.NotificationProfile
	if err := r.db.GetContext(ctx, &p, query, countryCode, number); err != nil {
		return nil, fmt.Errorf("failed to get user by phone: %w", notFound(err))
	}
	return &p, nil
}

func (r *profileRepository) ListDue(ctx context.Context, ref time.Time, limit int) ([]*model.NotificationProfile, error) {
	query := `SELECT ` + profileColumns + `
		FROM users
		WHERE daily_digest_enabled = TRUE
		AND next_send_at IS NOT NULL
		AND next_send_at <= $1
		ORDER BY next_send_at ASC
		LIMIT $2`

	var profiles []*model.NotificationProfile
	if err := r.db.SelectContext(ctx, &profiles, query, ref.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to list due users: %w", err)
	}
	return profiles, nil
}

func (r *profileRepository) UpdateNextSendAt(ctx context.Context, id uuid.UUID, next *time.Time) error {
	query := `UPDATE users SET next_send_at = $1 WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, next, id)
	if err != nil {
		return fmt.Errorf("failed to update next_send_at: %w", err)
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("failed to update next_send_at: %w", err)
	}
	return nil
}

func (r *profileRepository) SetSMSOptOut(ctx context.Context, id uuid.UUID, optedOut bool) error {
	query := `UPDATE users SET sms_opted_out = $1 WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, optedOut, id)
	if err != nil {
		return fmt.Errorf("failed to update sms opt-out: %w", err)
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("failed to update sms opt-out: %w", err)
	}
	return nil
}
