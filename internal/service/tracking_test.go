package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"go.uber.org/zap"
)

func newTrackingEngine(t *testing.T) (*engine, *TrackingService) {
	t.Helper()

	e := newEngine(t, twoStepStore(), nil)
	if outcome, err := e.dispatcher.Dispatch(context.Background(), requestFor(t, e, "k1")); err != nil || outcome != OutcomeSent {
		t.Fatalf("Dispatch() = %s, %v, want sent", outcome, err)
	}

	svc, err := NewTrackingService(e.deliveries, e.dispatcher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTrackingService() error = %v", err)
	}
	return e, svc
}

func TestTrackingOpenIsRecordedOnce(t *testing.T) {
	t.Parallel()

	e, svc := newTrackingEngine(t)
	event := domain.TrackingEvent{MessageID: "msg-1", Type: domain.EventOpen, OccurredAt: t0.Add(time.Hour)}

	result, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !result.LedgerUpdated || result.ContactStopped || result.ContactID != "k1" {
		t.Fatalf("result = %+v, want ledger update only", result)
	}

	event.OccurredAt = t0.Add(2 * time.Hour)
	result, err = svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if result.LedgerUpdated {
		t.Fatal("second open must not overwrite the first")
	}

	rec := e.store.recordsFor("k1", 1)[0]
	if rec.OpenedAt == nil || !rec.OpenedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("openedAt = %v, want first open time", rec.OpenedAt)
	}
	if got := e.store.contact("k1").Status; got != domain.ContactActive {
		t.Fatalf("status = %s, want active", got)
	}
}

func TestTrackingStopsContact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventType  domain.TrackingEventType
		wantStatus domain.ContactStatus
		wantLedger bool
	}{
		{domain.EventReply, domain.ContactReplied, false},
		{domain.EventUnsubscribe, domain.ContactUnsubscribed, false},
		{domain.EventBounce, domain.ContactBounced, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.eventType.String(), func(t *testing.T) {
			t.Parallel()

			e, svc := newTrackingEngine(t)
			result, err := svc.Ingest(context.Background(), domain.TrackingEvent{MessageID: "msg-1", Type: tt.eventType, OccurredAt: t0})
			if err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			if !result.ContactStopped || result.LedgerUpdated != tt.wantLedger {
				t.Fatalf("result = %+v", result)
			}
			if got := e.store.contact("k1").Status; got != tt.wantStatus {
				t.Fatalf("status = %s, want %s", got, tt.wantStatus)
			}

			set, err := e.scheduler.DueContacts(context.Background(), "c1", t0.Add(30*24*time.Hour))
			if err != nil {
				t.Fatalf("DueContacts() error = %v", err)
			}
			if len(set.Due) != 0 {
				t.Fatalf("stopped contact is still due: %+v", set.Due)
			}
		})
	}
}

func TestTrackingRejectsBadEvents(t *testing.T) {
	t.Parallel()

	_, svc := newTrackingEngine(t)

	_, err := svc.Ingest(context.Background(), domain.TrackingEvent{MessageID: "msg-1", Type: "forwarded", OccurredAt: t0})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("invalid type error = %v, want ErrValidation", err)
	}

	_, err = svc.Ingest(context.Background(), domain.TrackingEvent{MessageID: "nope", Type: domain.EventOpen, OccurredAt: t0})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown message error = %v, want ErrNotFound", err)
	}
}
