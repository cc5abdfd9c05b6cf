package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationProfile is the slice of a user row the dispatcher reads and writes.
type NotificationProfile struct {
	ID                        uuid.UUID  `json:"id" db:"id"`
	Email                     *string    `json:"email,omitempty" db:"email"`
	PhoneCountryCode          *string    `json:"phone_country_code,omitempty" db:"phone_country_code"`
	PhoneNumber               *string    `json:"phone_number,omitempty" db:"phone_number"`
	EmailNotificationsEnabled bool       `json:"email_notifications_enabled" db:"email_notifications_enabled"`
	SMSNotificationsEnabled   bool       `json:"sms_notifications_enabled" db:"sms_notifications_enabled"`
	PhoneVerified             bool       `json:"phone_verified" db:"phone_verified"`
	SMSOptedOut               bool       `json:"sms_opted_out" db:"sms_opted_out"`
	Timezone                  *string    `json:"timezone,omitempty" db:"timezone"`
	DailyDigestEnabled        bool       `json:"daily_digest_enabled" db:"daily_digest_enabled"`
	DailyDigestTime           *int       `json:"daily_digest_notification_time,omitempty" db:"daily_digest_notification_time"`
	NextSendAt                *time.Time `json:"next_send_at,omitempty" db:"next_send_at"`
}

// EmailAddress returns the trimmed address or "".
func (p *NotificationProfile) EmailAddress() string {
	return deref(p.Email)
}

// TimezoneName returns the IANA zone name or "".
func (p *NotificationProfile) TimezoneName() string {
	return deref(p.Timezone)
}

// HasPhone reports whether both phone parts are present.
func (p *NotificationProfile) HasPhone() bool {
	return deref(p.PhoneCountryCode) != "" && deref(p.PhoneNumber) != ""
}

// E164Phone joins country code and national number. The country code is stored with its "+".
func (p *NotificationProfile) E164Phone() string {
	if !p.HasPhone() {
		return ""
	}
	cc := deref(p.PhoneCountryCode)
	if !strings.HasPrefix(cc, "+") {
		cc = "+" + cc
	}
	return cc + deref(p.PhoneNumber)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
