package domain

import "time"

// SenderIdentity is a sending mailbox in a campaign's pool. SentToday is the
// warm-up counter and HealthScore is derived from the delivery ledger.
type SenderIdentity struct {
	CampaignID      string
	Email           string
	DisplayName     string
	IsActive        bool
	IsSelected      bool
	DailyLimit      int
	SentToday       int
	HealthScore     float64
	HealthUpdatedAt *time.Time
}

// HasCapacity reports whether one more reservation could succeed.
func (s SenderIdentity) HasCapacity() bool {
	return s.DailyLimit > 0 && s.SentToday < s.DailyLimit
}

// Eligible reports whether the selector may pick this sender.
func (s SenderIdentity) Eligible() bool {
	return s.IsActive && s.IsSelected && s.HasCapacity()
}

// LoadRatio is sentToday/dailyLimit, used to spread sends across the pool.
func (s SenderIdentity) LoadRatio() float64 {
	if s.DailyLimit <= 0 {
		return 1
	}
	return float64(s.SentToday) / float64(s.DailyLimit)
}
