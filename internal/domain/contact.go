package domain

import (
	"fmt"
	"strings"
	"time"
)

// ContactStatus is the lifecycle state of an enrolled contact. Every value
// other than ContactActive is terminal.
type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactCompleted    ContactStatus = "completed"
	ContactReplied      ContactStatus = "replied"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
)

func (s ContactStatus) String() string { return string(s) }

func (s ContactStatus) IsValid() bool {
	switch s {
	case ContactActive, ContactCompleted, ContactReplied, ContactUnsubscribed, ContactBounced:
		return true
	}
	return false
}

func (s ContactStatus) IsTerminal() bool {
	return s.IsValid() && s != ContactActive
}

func ParseContactStatus(s string) (ContactStatus, error) {
	st := ContactStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid contact status %q", ErrValidation, s)
	}
	return st, nil
}

// Contact is the per-contact progress cursor. CurrentStep is the number of
// the last step sent successfully, 0 before the first send.
type Contact struct {
	ID              string
	CampaignID      string
	Email           string
	FirstName       string
	LastName        string
	Company         string
	Variables       map[string]string
	Timezone        string
	CurrentStep     int
	Status          ContactStatus
	LastContactedAt *time.Time
	EnrolledAt      time.Time
	UpdatedAt       time.Time
}

// NextStep is the step number a due contact would receive next.
func (c Contact) NextStep() int {
	return c.CurrentStep + 1
}

// Location is the contact's time zone for send windows.
func (c Contact) Location() *time.Location {
	return LoadZone(c.Timezone)
}

// TemplateData exposes the contact fields available to step templates.
func (c Contact) TemplateData() map[string]any {
	data := map[string]any{
		"email":      c.Email,
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"company":    c.Company,
	}
	for k, v := range c.Variables {
		if _, reserved := data[k]; reserved {
			continue
		}
		data[k] = v
	}
	return data
}
