package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/queue"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// WorkerService consumes queued due steps and dispatches them. Every message
// is re-checked against fresh state, so stale or repeated messages are
// acknowledged without sending.
type WorkerService struct {
	contacts    repository.ContactRepository
	senders     repository.SenderRepository
	scheduler   *DueScheduler
	selector    *SenderSelector
	dispatcher  StepDispatcher
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewWorkerService(
	contacts repository.ContactRepository,
	senders repository.SenderRepository,
	scheduler *DueScheduler,
	selector *SenderSelector,
	dispatcher StepDispatcher,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if senders == nil {
		return nil, fmt.Errorf("sender repository is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if selector == nil {
		selector = NewSenderSelector(0)
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		contacts:    contacts,
		senders:     senders,
		scheduler:   scheduler,
		selector:    selector,
		dispatcher:  dispatcher,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the dispatch queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only for failures worth redelivering.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	logger := observability.WithContextLogger(s.logger, ctx).
		With(observability.DispatchFields(msg.CampaignID, msg.ContactID, msg.StepNumber)...)

	s.metrics.IncDispatchInFlight("queue")
	defer s.metrics.DecDispatchInFlight("queue")

	contact, err := s.contacts.GetByID(ctx, msg.ContactID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("contact not found, dropping message")
			return nil
		}
		return fmt.Errorf("failed to load contact: %w", err)
	}
	if contact.CampaignID != msg.CampaignID {
		logger.Warn("contact belongs to another campaign, dropping message")
		return nil
	}
	if contact.NextStep() != msg.StepNumber {
		logger.Debug("message is stale, contact already moved on",
			zap.Int("currentStep", contact.CurrentStep),
		)
		return nil
	}

	seq, err := s.scheduler.Sequence(ctx, msg.CampaignID)
	if err != nil {
		if errors.Is(err, domain.ErrDataIntegrity) {
			logger.Error("campaign sequence is invalid, dropping message", zap.Error(err))
			return nil
		}
		return err
	}

	due, ok, err := IsDue(*contact, seq, s.now())
	if err != nil {
		s.metrics.IncDataIntegrityError(msg.CampaignID)
		logger.Error("contact skipped", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	senders, err := s.senders.ListByCampaign(ctx, msg.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to list senders: %w", err)
	}
	sender, ok := s.selector.Select(senders)
	if !ok {
		s.metrics.IncDispatchOutcome(OutcomeDeferred.String())
		logger.Info("no eligible sender, deferring")
		return nil
	}

	outcome, err := s.dispatcher.Dispatch(ctx, DispatchRequest{
		Contact:       due.Contact,
		Step:          due.Step,
		MaxStep:       due.MaxStep,
		Sender:        sender,
		CorrelationID: msg.CorrelationID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDataIntegrity) || errors.Is(err, domain.ErrValidation) {
			return nil
		}
		// The claim was settled or never taken, so a redelivery is safe.
		if outcome == "" {
			return fmt.Errorf("dispatch failed: %w", err)
		}
		logger.Error("dispatch settled with error", zap.String("outcome", outcome.String()), zap.Error(err))
	}
	return nil
}
