package model

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

type NotificationType string

const (
	NotificationTypeDailyDigest NotificationType = "daily_digest"
	NotificationTypeTest        NotificationType = "test"
)

type ClaimStatus string

const (
	ClaimStatusPending ClaimStatus = "pending"
	ClaimStatusSent    ClaimStatus = "sent"
	ClaimStatusFailed  ClaimStatus = "failed"
)

// ClaimKey identifies one delivery slot. ScheduledDate is the user's local date, YYYY-MM-DD.
type ClaimKey struct {
	UserID        uuid.UUID        `json:"user_id" db:"user_id"`
	Type          NotificationType `json:"notification_type" db:"notification_type"`
	ScheduledDate string           `json:"scheduled_date" db:"scheduled_date"`
	Channel       Channel          `json:"channel" db:"channel"`
}

// ScheduledNotification is the persisted claim record for a ClaimKey.
type ScheduledNotification struct {
	ID uuid.UUID `json:"id" db:"id"`
	ClaimKey
	Status       ClaimStatus `json:"status" db:"status"`
	AttemptCount int         `json:"attempt_count" db:"attempt_count"`
	Error        *string     `json:"error,omitempty" db:"error"`
	SentAt       *time.Time  `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// NotificationLog is an append-only audit row, one per delivery attempt.
type NotificationLog struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	UserID           uuid.UUID        `json:"user_id" db:"user_id"`
	Type             NotificationType `json:"type" db:"type"`
	DeliveryMethod   Channel          `json:"delivery_method" db:"delivery_method"`
	MessageDelivered bool             `json:"message_delivered" db:"message_delivered"`
	Message          string           `json:"message" db:"message"`
	Error            *string          `json:"error,omitempty" db:"error"`
	ErrorCode        *string          `json:"error_code,omitempty" db:"error_code"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// DeliveryResult is what a sender reports. Failure is a value, not an error.
type DeliveryResult struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
}

func Delivered(providerMessageID string) DeliveryResult {
	return DeliveryResult{Success: true, ProviderMessageID: providerMessageID}
}

func DeliveryFailed(reason, code string) DeliveryResult {
	return DeliveryResult{Error: reason, ErrorCode: code}
}

// DeliveryEvent is published after every delivery attempt.
type DeliveryEvent struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"user_id"`
	Type       NotificationType `json:"type"`
	Channel    Channel          `json:"channel"`
	Delivered  bool             `json:"delivered"`
	ErrorCode  string           `json:"error_code,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// TrackedStock is a symbol on a user's watch list.
type TrackedStock struct {
	Symbol string  `json:"symbol" db:"symbol"`
	Name   *string `json:"name,omitempty" db:"name"`
}

// Timezone is a row of the selectable timezone catalog.
type Timezone struct {
	Value        string `json:"value" db:"value"`
	Label        string `json:"label" db:"label"`
	DisplayOrder int    `json:"display_order" db:"display_order"`
	Active       bool   `json:"active" db:"active"`
}

func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
