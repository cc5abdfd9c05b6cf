package model

// DispatchStats counts the outcomes of a dispatch run. Addition is field-wise,
// so partial results may be combined in any order.
type DispatchStats struct {
	UsersProcessed int `json:"usersProcessed"`
	Skipped        int `json:"skipped"`
	LogFailures    int `json:"logFailures"`
	EmailsSent     int `json:"emailsSent"`
	EmailsFailed   int `json:"emailsFailed"`
	SMSSent        int `json:"smsSent"`
	SMSFailed      int `json:"smsFailed"`
	ClaimsDenied   int `json:"claimsDenied"`
}

func (s DispatchStats) Add(o DispatchStats) DispatchStats {
	return DispatchStats{
		UsersProcessed: s.UsersProcessed + o.UsersProcessed,
		Skipped:        s.Skipped + o.Skipped,
		LogFailures:    s.LogFailures + o.LogFailures,
		EmailsSent:     s.EmailsSent + o.EmailsSent,
		EmailsFailed:   s.EmailsFailed + o.EmailsFailed,
		SMSSent:        s.SMSSent + o.SMSSent,
		SMSFailed:      s.SMSFailed + o.SMSFailed,
		ClaimsDenied:   s.ClaimsDenied + o.ClaimsDenied,
	}
}

func Aggregate(stats ...DispatchStats) DispatchStats {
	var total DispatchStats
	for _, s := range stats {
		total = total.Add(s)
	}
	return total
}

// RecordDelivery bumps the sent or failed counter for the channel.
func (s *DispatchStats) RecordDelivery(ch Channel, ok bool) {
	switch {
	case ch == ChannelEmail && ok:
		s.EmailsSent++
	case ch == ChannelEmail:
		s.EmailsFailed++
	case ch == ChannelSMS && ok:
		s.SMSSent++
	case ch == ChannelSMS:
		s.SMSFailed++
	}
}
