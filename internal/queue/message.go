package queue

import (
	"fmt"
	"strings"
)

// DispatchMessage asks a worker to dispatch one due step to one contact.
type DispatchMessage struct {
	CampaignID    string `json:"campaignId"`
	ContactID     string `json:"contactId"`
	StepNumber    int    `json:"stepNumber"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	if strings.TrimSpace(m.ContactID) == "" {
		return fmt.Errorf("contactId is required")
	}
	if m.StepNumber < 1 {
		return fmt.Errorf("stepNumber must be >= 1, got %d", m.StepNumber)
	}
	return nil
}

// Key identifies the (campaign, contact, step) triple the message targets.
func (m DispatchMessage) Key() string {
	return fmt.Sprintf("%s:%s:%d", m.CampaignID, m.ContactID, m.StepNumber)
}
