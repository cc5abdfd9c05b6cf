package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
)

type notificationLogRepository struct {
	BaseRepository
}

func NewNotificationLogRepository(base BaseRepository) repository.NotificationLogRepository {
	return &notificationLogRepository{base}
}

func (r *notificationLogRepository) Create(ctx context.Context, entry *model.NotificationLog) error {
	if entry == nil {
		return fmt.Errorf("log entry cannot be nil")
	}

	query := `
		INSERT INTO notification_log (
			id, user_id, type, delivery_method, message_delivered,
			message, error, error_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Type,
		entry.DeliveryMethod,
		entry.MessageDelivered,
		entry.Message,
		entry.Error,
		entry.ErrorCode,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}
	return nil
}
