package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"go.uber.org/zap"
)

// DueContact is a contact whose next step may be dispatched now.
type DueContact struct {
	Contact domain.Contact
	Step    domain.SequenceStep
	MaxStep int
	DueAt   time.Time
}

// SkippedContact is an active contact left out of the due set because its
// state does not match the campaign's configuration.
type SkippedContact struct {
	ContactID string
	Err       error
}

type DueSet struct {
	Due     []DueContact
	Skipped []SkippedContact
}

// DueAt returns when step becomes due for contact. The first step is timed
// from enrollment and every later step from the previous send.
func DueAt(contact domain.Contact, step domain.SequenceStep) (time.Time, error) {
	if contact.CurrentStep == 0 {
		return contact.EnrolledAt.Add(step.Timing.Duration()), nil
	}
	if contact.LastContactedAt == nil {
		return time.Time{}, fmt.Errorf("%w: contact %s is at step %d without a last contact time",
			domain.ErrDataIntegrity, contact.ID, contact.CurrentStep)
	}
	return contact.LastContactedAt.Add(step.Timing.Duration()), nil
}

// IsDue reports whether contact should receive its next step at now. A due
// step waits while the campaign's send window is closed for the contact.
func IsDue(contact domain.Contact, seq domain.Sequence, now time.Time) (DueContact, bool, error) {
	if contact.Status != domain.ContactActive {
		return DueContact{}, false, nil
	}
	maxStep := seq.MaxStep()
	if contact.CurrentStep >= maxStep {
		return DueContact{}, false, nil
	}

	step, ok := seq.Step(contact.NextStep())
	if !ok {
		return DueContact{}, false, fmt.Errorf("%w: campaign %s has no step %d for contact %s",
			domain.ErrDataIntegrity, seq.CampaignID, contact.NextStep(), contact.ID)
	}

	dueAt, err := DueAt(contact, step)
	if err != nil {
		return DueContact{}, false, err
	}
	if now.Before(dueAt) {
		return DueContact{}, false, nil
	}
	if !seq.Window.Open(now, contact.Location()) {
		return DueContact{}, false, nil
	}

	return DueContact{
		Contact: contact,
		Step:    step,
		MaxStep: maxStep,
		DueAt:   dueAt,
	}, true, nil
}

// ComputeDue filters contacts to the due set, oldest enrollment first.
// Contacts whose state cannot be resolved against seq are reported in
// Skipped and never appear in Due.
func ComputeDue(seq domain.Sequence, contacts []domain.Contact, now time.Time) DueSet {
	var set DueSet
	for _, contact := range contacts {
		due, ok, err := IsDue(contact, seq, now)
		if err != nil {
			set.Skipped = append(set.Skipped, SkippedContact{ContactID: contact.ID, Err: err})
			continue
		}
		if ok {
			set.Due = append(set.Due, due)
		}
	}

	sort.SliceStable(set.Due, func(i, j int) bool {
		a, b := set.Due[i].Contact, set.Due[j].Contact
		if !a.EnrolledAt.Equal(b.EnrolledAt) {
			return a.EnrolledAt.Before(b.EnrolledAt)
		}
		return a.ID < b.ID
	})
	return set
}

// DueScheduler loads a campaign's sequence and contacts and computes the
// due set. It has no side effects on stored state.
type DueScheduler struct {
	sequences repository.SequenceRepository
	contacts  repository.ContactRepository
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewDueScheduler(
	sequences repository.SequenceRepository,
	contacts repository.ContactRepository,
	logger *zap.Logger,
) (*DueScheduler, error) {
	if sequences == nil {
		return nil, fmt.Errorf("sequence repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DueScheduler{
		sequences: sequences,
		contacts:  contacts,
		logger:    logger,
	}, nil
}

func (s *DueScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Sequence loads and validates the campaign's steps.
func (s *DueScheduler) Sequence(ctx context.Context, campaignID string) (domain.Sequence, error) {
	seq, err := s.sequences.GetSequence(ctx, campaignID)
	if err != nil {
		return domain.Sequence{}, fmt.Errorf("failed to load sequence: %w", err)
	}
	if err := seq.Validate(); err != nil {
		s.metrics.IncDataIntegrityError(campaignID)
		return domain.Sequence{}, err
	}
	return seq, nil
}

func (s *DueScheduler) DueContacts(ctx context.Context, campaignID string, now time.Time) (DueSet, error) {
	seq, err := s.Sequence(ctx, campaignID)
	if err != nil {
		return DueSet{}, err
	}

	contacts, err := s.contacts.ListActive(ctx, campaignID)
	if err != nil {
		return DueSet{}, fmt.Errorf("failed to list active contacts: %w", err)
	}

	set := ComputeDue(seq, contacts, now)
	for _, skipped := range set.Skipped {
		if errors.Is(skipped.Err, domain.ErrDataIntegrity) {
			s.metrics.IncDataIntegrityError(campaignID)
		}
		s.logger.Error("contact skipped",
			zap.String("campaignId", campaignID),
			zap.String("contactId", skipped.ContactID),
			zap.Error(skipped.Err),
		)
	}
	s.metrics.SetDueContacts(campaignID, len(set.Due))

	return set, nil
}
