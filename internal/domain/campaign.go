package domain

import "time"

// CampaignStatus controls whether the runner schedules a campaign.
type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignPaused CampaignStatus = "paused"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignActive, CampaignPaused:
		return true
	}
	return false
}

// Campaign owns a sequence of steps, its enrolled contacts, and a sender pool.
type Campaign struct {
	ID         string
	Name       string
	Status     CampaignStatus
	SendWindow SendWindow
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
