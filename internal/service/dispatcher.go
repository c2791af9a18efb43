package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/provider"
	"github.com/kursadbilgin/sequence-engine/internal/ratelimit"
	"github.com/kursadbilgin/sequence-engine/internal/render"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultSendTimeout = 15 * time.Second

// Outcome is the result of one dispatch attempt. None of them is an error:
// errors are reserved for store failures and data integrity problems.
type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeDeferred         Outcome = "deferred"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
	OutcomeSkipped          Outcome = "skipped"
)

func (o Outcome) String() string { return string(o) }

// QuotaReserver is the part of the warm-up quota manager the dispatcher uses.
type QuotaReserver interface {
	Reserve(ctx context.Context, campaignID string, sender string) (bool, error)
	Release(ctx context.Context, campaignID string, sender string) error
}

// DispatchRequest is one due step paired with the sender chosen for it.
type DispatchRequest struct {
	Contact       domain.Contact
	Step          domain.SequenceStep
	MaxStep       int
	Sender        domain.SenderIdentity
	CorrelationID string
}

// Dispatcher runs the Pending -> Claimed -> Sent | Failed protocol for one
// (contact, step) and is the only writer of contact progress.
type Dispatcher struct {
	deliveries  repository.DeliveryRepository
	contacts    repository.ContactRepository
	quota       QuotaReserver
	mailer      provider.Mailer
	rateLimiter ratelimit.RateLimiter
	renderer    *render.Renderer
	sendTimeout time.Duration
	resetZone   *time.Location
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	newID       func() string
}

func NewDispatcher(
	deliveries repository.DeliveryRepository,
	contacts repository.ContactRepository,
	quota QuotaReserver,
	mailer provider.Mailer,
	rateLimiter ratelimit.RateLimiter,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if quota == nil {
		return nil, fmt.Errorf("quota reserver is required")
	}
	if mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		deliveries:  deliveries,
		contacts:    contacts,
		quota:       quota,
		mailer:      mailer,
		rateLimiter: rateLimiter,
		renderer:    render.NewRenderer(),
		sendTimeout: sendTimeout,
		resetZone:   time.UTC,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SetQuotaResetZone tells the dispatcher where the daily quota reset
// happens, so a failed send never hands a slot back to the next day.
func (d *Dispatcher) SetQuotaResetZone(loc *time.Location) {
	if d == nil || loc == nil {
		return
	}
	d.resetZone = loc
}

// Dispatch attempts req exactly once. Once a claim is held the attempt is
// settled even if ctx is canceled, so a record is never left claimed by a
// live process.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (Outcome, error) {
	outcome, err := d.dispatch(ctx, req)
	if outcome != "" {
		d.metrics.IncDispatchOutcome(outcome.String())
	}
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req DispatchRequest) (Outcome, error) {
	contact := req.Contact
	logger := observability.WithContextLogger(d.logger, ctx).
		With(observability.DispatchFields(contact.CampaignID, contact.ID, req.Step.StepNumber)...)

	if contact.Status != domain.ContactActive {
		return OutcomeSkipped, nil
	}
	if err := validateRequest(req); err != nil {
		d.metrics.IncDataIntegrityError(contact.CampaignID)
		logger.Error("dispatch rejected", zap.Error(err))
		return OutcomeSkipped, err
	}

	rendered, err := d.renderer.Render(req.Step, contact, req.Sender)
	if err != nil {
		d.metrics.IncDataIntegrityError(contact.CampaignID)
		logger.Error("template render failed", zap.Error(err))
		return OutcomeSkipped, err
	}

	record := &domain.DeliveryRecord{
		ID:          d.newID(),
		CampaignID:  contact.CampaignID,
		ContactID:   contact.ID,
		StepNumber:  req.Step.StepNumber,
		SenderEmail: strings.ToLower(req.Sender.Email),
		ClaimedAt:   d.now().UTC(),
	}
	claimed, err := d.deliveries.Claim(ctx, record)
	if err != nil {
		return "", fmt.Errorf("failed to claim step: %w", err)
	}
	if !claimed {
		logger.Debug("step already claimed")
		return OutcomeDuplicate, nil
	}

	// From here on the claim must be settled.
	settleCtx := context.WithoutCancel(ctx)

	reserved, err := d.quota.Reserve(ctx, contact.CampaignID, record.SenderEmail)
	if err != nil {
		d.markFailed(settleCtx, logger, record.ID, domain.FailureTransient, "quota reservation error: "+err.Error())
		return "", err
	}
	if !reserved {
		d.markFailed(settleCtx, logger, record.ID, domain.FailureQuotaExhausted, "sender daily limit reached")
		logger.Info("dispatch deferred: quota exhausted",
			observability.Email("sender", record.SenderEmail),
		)
		return OutcomeDeferred, nil
	}

	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, record.SenderEmail); err != nil {
			return d.transientFailure(settleCtx, logger, record, fmt.Errorf("send throttle: %w", err)), nil
		}
	}

	result, sendErr := d.send(ctx, req, record.SenderEmail, rendered)
	if sendErr != nil {
		if provider.IsTransient(sendErr) || errors.Is(ctx.Err(), context.Canceled) {
			return d.transientFailure(settleCtx, logger, record, sendErr), nil
		}
		return d.permanentFailure(settleCtx, logger, record, sendErr)
	}

	return d.succeeded(settleCtx, logger, req, record, result)
}

func validateRequest(req DispatchRequest) error {
	if req.Step.StepNumber != req.Contact.NextStep() {
		return fmt.Errorf("%w: contact %s is at step %d, cannot send step %d",
			domain.ErrDataIntegrity, req.Contact.ID, req.Contact.CurrentStep, req.Step.StepNumber)
	}
	if req.Step.StepNumber > req.MaxStep {
		return fmt.Errorf("%w: step %d exceeds max step %d",
			domain.ErrDataIntegrity, req.Step.StepNumber, req.MaxStep)
	}
	if strings.TrimSpace(req.Sender.Email) == "" {
		return fmt.Errorf("%w: sender is required", domain.ErrValidation)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, req DispatchRequest, from string, rendered render.Rendered) (*provider.SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	msg := provider.Message{
		From:     from,
		FromName: req.Sender.DisplayName,
		To:       req.Contact.Email,
		Subject:  rendered.Subject,
		Body:     rendered.Body,
		Headers: map[string]string{
			"X-Campaign-ID":   req.Contact.CampaignID,
			"X-Contact-ID":    req.Contact.ID,
			"X-Sequence-Step": strconv.Itoa(req.Step.StepNumber),
		},
	}

	d.metrics.IncDispatchInFlight(d.mailer.Name())
	defer d.metrics.DecDispatchInFlight(d.mailer.Name())

	start := d.now()
	result, err := d.mailer.Send(sendCtx, msg)
	d.metrics.ObserveSendDuration(d.mailer.Name(), d.now().Sub(start))
	return result, err
}

func (d *Dispatcher) succeeded(
	ctx context.Context,
	logger *zap.Logger,
	req DispatchRequest,
	record *domain.DeliveryRecord,
	result *provider.SendResult,
) (Outcome, error) {
	sentAt := d.now().UTC()
	messageID := ""
	if result != nil {
		messageID = strings.TrimSpace(result.MessageID)
	}

	var settleErr error
	if err := d.deliveries.MarkSent(ctx, record.ID, sentAt, messageID); err != nil {
		logger.Error("failed to mark delivery sent", zap.String("deliveryId", record.ID), zap.Error(err))
		settleErr = fmt.Errorf("failed to mark delivery sent: %w", err)
	}

	complete := req.Step.StepNumber >= req.MaxStep
	advanced, err := d.contacts.Advance(ctx, req.Contact.ID, req.Contact.CurrentStep, sentAt, complete)
	if err != nil {
		logger.Error("failed to advance contact", zap.Error(err))
		return OutcomeSent, errors.Join(settleErr, fmt.Errorf("failed to advance contact: %w", err))
	}
	if !advanced {
		logger.Warn("contact changed during dispatch, progress not advanced")
	}

	logger.Info("step sent",
		zap.String("messageId", messageID),
		observability.Email("sender", record.SenderEmail),
		zap.Bool("completed", complete && advanced),
	)
	return OutcomeSent, settleErr
}

func (d *Dispatcher) transientFailure(ctx context.Context, logger *zap.Logger, record *domain.DeliveryRecord, cause error) Outcome {
	d.markFailed(ctx, logger, record.ID, domain.FailureTransient, cause.Error())
	if d.now().Before(NextReset(record.ClaimedAt, d.resetZone)) {
		if err := d.quota.Release(ctx, record.CampaignID, record.SenderEmail); err != nil {
			logger.Warn("failed to release quota slot", zap.Error(err))
		}
	} else {
		logger.Info("quota reset since claim, slot not released")
	}
	logger.Warn("transient send failure, step will be retried", zap.Error(cause))
	return OutcomeTransientFailure
}

func (d *Dispatcher) permanentFailure(ctx context.Context, logger *zap.Logger, record *domain.DeliveryRecord, cause error) (Outcome, error) {
	d.markFailed(ctx, logger, record.ID, domain.FailurePermanent, cause.Error())

	if _, err := d.contacts.SetTerminal(ctx, record.ContactID, domain.ContactBounced); err != nil {
		logger.Error("failed to mark contact bounced", zap.Error(err))
		return OutcomePermanentFailure, fmt.Errorf("failed to mark contact bounced: %w", err)
	}

	logger.Warn("permanent send failure, contact bounced", zap.Error(cause))
	return OutcomePermanentFailure, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, logger *zap.Logger, recordID string, kind domain.FailureKind, reason string) {
	if err := d.deliveries.MarkFailed(ctx, recordID, kind, reason); err != nil {
		logger.Error("failed to mark delivery failed",
			zap.String("deliveryId", recordID),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
	}
}

// MarkContactTerminal ends a contact's sequence after a reply, an
// unsubscribe or a bounce. Completed is reached only by sending the last step.
func (d *Dispatcher) MarkContactTerminal(ctx context.Context, contactID string, status domain.ContactStatus) (bool, error) {
	switch status {
	case domain.ContactReplied, domain.ContactUnsubscribed, domain.ContactBounced:
	default:
		return false, fmt.Errorf("%w: status %q cannot be set externally", domain.ErrValidation, status)
	}
	if strings.TrimSpace(contactID) == "" {
		return false, fmt.Errorf("%w: contact id is required", domain.ErrValidation)
	}

	changed, err := d.contacts.SetTerminal(ctx, contactID, status)
	if err != nil {
		return false, fmt.Errorf("failed to set contact status: %w", err)
	}
	if changed {
		d.logger.Info("contact stopped",
			zap.String("contactId", contactID),
			zap.String("status", status.String()),
		)
	}
	return changed, nil
}
