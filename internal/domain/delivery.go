package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the state of one (contact, step) attempt in the ledger.
type DeliveryStatus string

const (
	DeliveryClaimed DeliveryStatus = "claimed"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryClaimed, DeliverySent, DeliveryFailed:
		return true
	}
	return false
}

// FailureKind classifies a failed delivery record.
type FailureKind string

const (
	FailureQuotaExhausted FailureKind = "quota_exhausted"
	FailureTransient      FailureKind = "transient"
	FailurePermanent      FailureKind = "permanent"
	FailureAbandoned      FailureKind = "abandoned"
)

func (k FailureKind) String() string { return string(k) }

// DeliveryRecord is one claim in the dedup ledger. At most one record per
// (campaign, contact, step) may be in a non-failed state.
type DeliveryRecord struct {
	ID            string
	CampaignID    string
	ContactID     string
	StepNumber    int
	SenderEmail   string
	Status        DeliveryStatus
	FailureKind   *FailureKind
	FailureReason *string
	MessageID     *string
	ClaimedAt     time.Time
	SentAt        *time.Time
	OpenedAt      *time.Time
	ClickedAt     *time.Time
	BouncedAt     *time.Time
}

// TrackingEventType is the kind of event reported by a mail provider webhook.
type TrackingEventType string

const (
	EventOpen        TrackingEventType = "open"
	EventClick       TrackingEventType = "click"
	EventBounce      TrackingEventType = "bounce"
	EventReply       TrackingEventType = "reply"
	EventUnsubscribe TrackingEventType = "unsubscribe"
)

func (t TrackingEventType) String() string { return string(t) }

func (t TrackingEventType) IsValid() bool {
	switch t {
	case EventOpen, EventClick, EventBounce, EventReply, EventUnsubscribe:
		return true
	}
	return false
}

func ParseTrackingEventType(s string) (TrackingEventType, error) {
	t := TrackingEventType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "opened":
		t = EventOpen
	case "clicked":
		t = EventClick
	case "bounced", "blocked", "dropped":
		t = EventBounce
	case "replied":
		t = EventReply
	case "unsubscribed", "spamreport", "spam_report":
		t = EventUnsubscribe
	}
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unsupported event type %q", ErrValidation, s)
	}
	return t, nil
}

// TrackingEvent references a delivery record by the provider message id.
type TrackingEvent struct {
	MessageID  string
	Type       TrackingEventType
	OccurredAt time.Time
}

func (e TrackingEvent) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("%w: messageId is required", ErrValidation)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, e.Type)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurredAt is required", ErrValidation)
	}
	return nil
}
