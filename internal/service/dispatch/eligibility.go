package dispatch

import (
	"time"

	"github.com/jwalitptl/stockalert-api/internal/model"
)

// IsDue reports whether the user's digest should go out at ref.
func IsDue(p *model.NotificationProfile, ref time.Time) bool {
	return p != nil &&
		p.DailyDigestEnabled &&
		p.NextSendAt != nil &&
		!p.NextSendAt.After(ref)
}

func IsEmailEligible(p *model.NotificationProfile) bool {
	return p != nil && p.EmailNotificationsEnabled && p.EmailAddress() != ""
}

// IsSMSEligible requires a verified phone that has not opted out.
func IsSMSEligible(p *model.NotificationProfile) bool {
	return p != nil &&
		p.SMSNotificationsEnabled &&
		!p.SMSOptedOut &&
		p.PhoneVerified &&
		p.HasPhone()
}

// EligibleChannels lists channels in delivery order: email, then SMS.
func EligibleChannels(p *model.NotificationProfile) []model.Channel {
	var channels []model.Channel
	if IsEmailEligible(p) {
		channels = append(channels, model.ChannelEmail)
	}
	if IsSMSEligible(p) {
		channels = append(channels, model.ChannelSMS)
	}
	return channels
}
