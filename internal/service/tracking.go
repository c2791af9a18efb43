package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"go.uber.org/zap"
)

// ContactStopper ends a contact's sequence. Dispatcher implements it.
type ContactStopper interface {
	MarkContactTerminal(ctx context.Context, contactID string, status domain.ContactStatus) (bool, error)
}

// TrackingResult reports what an ingested event changed.
type TrackingResult struct {
	DeliveryID     string `json:"deliveryId"`
	ContactID      string `json:"contactId"`
	LedgerUpdated  bool   `json:"ledgerUpdated"`
	ContactStopped bool   `json:"contactStopped"`
}

// TrackingService applies provider tracking events to the ledger.
type TrackingService struct {
	deliveries repository.DeliveryRepository
	contacts   ContactStopper
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func NewTrackingService(deliveries repository.DeliveryRepository, contacts ContactStopper, logger *zap.Logger) (*TrackingService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact stopper is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TrackingService{
		deliveries: deliveries,
		contacts:   contacts,
		logger:     logger,
	}, nil
}

func (s *TrackingService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Ingest records event against the delivery with the same message id. The
// first occurrence of each event type wins. Bounces, replies and
// unsubscribes also stop the contact's sequence.
func (s *TrackingService) Ingest(ctx context.Context, event domain.TrackingEvent) (TrackingResult, error) {
	if err := event.Validate(); err != nil {
		label := "unknown"
		if event.Type.IsValid() {
			label = event.Type.String()
		}
		s.metrics.IncTrackingEvent(label, "invalid")
		return TrackingResult{}, err
	}

	record, err := s.deliveries.GetByMessageID(ctx, event.MessageID)
	if err != nil {
		s.metrics.IncTrackingEvent(event.Type.String(), "unknown_message")
		return TrackingResult{}, fmt.Errorf("failed to find delivery for message %s: %w", event.MessageID, err)
	}

	result := TrackingResult{DeliveryID: record.ID, ContactID: record.ContactID}

	result.LedgerUpdated, err = s.deliveries.ApplyTrackingEvent(ctx, event)
	if err != nil {
		return result, fmt.Errorf("failed to apply tracking event: %w", err)
	}

	if status, ok := terminalStatusFor(event.Type); ok {
		result.ContactStopped, err = s.contacts.MarkContactTerminal(ctx, record.ContactID, status)
		if err != nil {
			return result, err
		}
	}

	outcome := "ignored"
	if result.LedgerUpdated || result.ContactStopped {
		outcome = "applied"
	}
	s.metrics.IncTrackingEvent(event.Type.String(), outcome)

	s.logger.Info("tracking event ingested",
		zap.String("messageId", event.MessageID),
		zap.String("type", event.Type.String()),
		zap.String("deliveryId", record.ID),
		zap.Bool("ledgerUpdated", result.LedgerUpdated),
		zap.Bool("contactStopped", result.ContactStopped),
	)
	return result, nil
}

func terminalStatusFor(t domain.TrackingEventType) (domain.ContactStatus, bool) {
	switch t {
	case domain.EventBounce:
		return domain.ContactBounced, true
	case domain.EventReply:
		return domain.ContactReplied, true
	case domain.EventUnsubscribe:
		return domain.ContactUnsubscribed, true
	default:
		return "", false
	}
}
