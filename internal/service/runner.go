package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/queue"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRunnerInterval    = time.Minute
	defaultRunnerConcurrency = 8
	minPassLockTTL           = 5 * time.Minute
)

// Locker guards work that only one process should run at a time.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// StepDispatcher is implemented by Dispatcher.
type StepDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (Outcome, error)
}

// PassSummary describes one scheduling pass over a campaign.
type PassSummary struct {
	CampaignID string          `json:"campaignId"`
	Due        int             `json:"due"`
	Skipped    int             `json:"skipped"`
	Published  int             `json:"published"`
	Outcomes   map[Outcome]int `json:"outcomes"`
	Locked     bool            `json:"locked"`
}

// CampaignRunner drives Scheduler -> Selector -> Dispatcher for campaigns.
// Inline mode dispatches in-process; queue mode publishes due steps for the
// worker pool.
type CampaignRunner struct {
	campaigns   repository.CampaignRepository
	senders     repository.SenderRepository
	scheduler   *DueScheduler
	selector    *SenderSelector
	dispatcher  StepDispatcher
	publisher   queue.Publisher
	locker      Locker
	concurrency int
	interval    time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewCampaignRunner(
	campaigns repository.CampaignRepository,
	senders repository.SenderRepository,
	scheduler *DueScheduler,
	selector *SenderSelector,
	dispatcher StepDispatcher,
	concurrency int,
	interval time.Duration,
	logger *zap.Logger,
) (*CampaignRunner, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
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
	if selector == nil {
		selector = NewSenderSelector(0)
	}
	if concurrency <= 0 {
		concurrency = defaultRunnerConcurrency
	}
	if interval <= 0 {
		interval = defaultRunnerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignRunner{
		campaigns:   campaigns,
		senders:     senders,
		scheduler:   scheduler,
		selector:    selector,
		dispatcher:  dispatcher,
		concurrency: concurrency,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (r *CampaignRunner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// SetPublisher switches the runner to queue mode.
func (r *CampaignRunner) SetPublisher(publisher queue.Publisher) {
	if r == nil {
		return
	}
	r.publisher = publisher
}

// SetLocker makes passes over the same campaign mutually exclusive across
// processes. Passes stay correct without it, they only waste work.
func (r *CampaignRunner) SetLocker(locker Locker) {
	if r == nil {
		return
	}
	r.locker = locker
}

func (r *CampaignRunner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.RunAll(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("campaign runner initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.RunAll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("campaign runner pass failed", zap.Error(err))
			}
		}
	}
}

// RunAll runs one pass over every active campaign.
func (r *CampaignRunner) RunAll(ctx context.Context) error {
	campaigns, err := r.campaigns.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active campaigns: %w", err)
	}

	for _, campaign := range campaigns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary, err := r.RunPass(ctx, campaign.ID)
		if err != nil {
			r.logger.Error("campaign pass failed",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("campaign pass finished",
			zap.String("campaignId", summary.CampaignID),
			zap.Int("due", summary.Due),
			zap.Int("skipped", summary.Skipped),
			zap.Int("published", summary.Published),
			zap.Any("outcomes", summary.Outcomes),
			zap.Bool("locked", summary.Locked),
		)
	}
	return nil
}

// RunPass computes the campaign's due set and dispatches or publishes it.
func (r *CampaignRunner) RunPass(ctx context.Context, campaignID string) (PassSummary, error) {
	summary := PassSummary{CampaignID: campaignID, Outcomes: map[Outcome]int{}}

	campaign, err := r.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return summary, err
	}
	if campaign.Status != domain.CampaignActive {
		return summary, fmt.Errorf("%w: campaign %s is %s", domain.ErrConflict, campaignID, campaign.Status)
	}

	if r.locker != nil {
		release, ok, err := r.locker.TryAcquire(ctx, "campaign-pass:"+campaignID, r.passLockTTL())
		if err != nil {
			return summary, fmt.Errorf("failed to acquire pass lock: %w", err)
		}
		if !ok {
			summary.Locked = true
			return summary, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("failed to release pass lock", zap.String("campaignId", campaignID), zap.Error(err))
			}
		}()
	}

	set, err := r.scheduler.DueContacts(ctx, campaignID, r.now())
	if err != nil {
		return summary, err
	}
	summary.Due = len(set.Due)
	summary.Skipped = len(set.Skipped)
	if len(set.Due) == 0 {
		return summary, nil
	}

	if r.publisher != nil {
		summary.Published, err = r.publish(ctx, set.Due)
		return summary, err
	}

	senders, err := r.senders.ListByCampaign(ctx, campaignID)
	if err != nil {
		return summary, fmt.Errorf("failed to list senders: %w", err)
	}

	outcomes := r.dispatchAll(ctx, set.Due, newSenderPool(r.selector, senders))
	for outcome, n := range outcomes {
		summary.Outcomes[outcome] = n
	}
	return summary, nil
}

func (r *CampaignRunner) publish(ctx context.Context, due []DueContact) (int, error) {
	published := 0
	for _, item := range due {
		msg := queue.DispatchMessage{
			CampaignID:    item.Contact.CampaignID,
			ContactID:     item.Contact.ID,
			StepNumber:    item.Step.StepNumber,
			CorrelationID: uuid.NewString(),
		}
		if err := r.publisher.Publish(ctx, queue.DispatchQueue, msg); err != nil {
			if ctx.Err() != nil {
				return published, ctx.Err()
			}
			r.logger.Error("failed to enqueue due step",
				append(observability.DispatchFields(msg.CampaignID, msg.ContactID, msg.StepNumber), zap.Error(err))...,
			)
			continue
		}
		published++
	}
	return published, nil
}

func (r *CampaignRunner) dispatchAll(ctx context.Context, due []DueContact, pool *senderPool) map[Outcome]int {
	var mu sync.Mutex
	outcomes := make(map[Outcome]int)
	record := func(o Outcome) {
		mu.Lock()
		outcomes[o]++
		mu.Unlock()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, item := range due {
		g.Go(func() error {
			if groupCtx.Err() != nil {
				return nil
			}

			sender, ok := pool.acquire()
			if !ok {
				r.metrics.IncDispatchOutcome(OutcomeDeferred.String())
				record(OutcomeDeferred)
				return nil
			}

			dispatchCtx := observability.WithCorrelationID(groupCtx, uuid.NewString())
			outcome, err := r.dispatcher.Dispatch(dispatchCtx, DispatchRequest{
				Contact: item.Contact,
				Step:    item.Step,
				MaxStep: item.MaxStep,
				Sender:  sender,
			})
			pool.settle(sender.Email, outcome)
			if err != nil {
				r.logger.Error("dispatch failed",
					append(observability.DispatchFields(item.Contact.CampaignID, item.Contact.ID, item.Step.StepNumber), zap.Error(err))...,
				)
			}
			if outcome != "" {
				record(outcome)
			}
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

func (r *CampaignRunner) passLockTTL() time.Duration {
	ttl := 2 * r.interval
	if ttl < minPassLockTTL {
		ttl = minPassLockTTL
	}
	return ttl
}

// senderPool is a pass-local view of the campaign's senders. It counts
// in-flight picks so concurrent dispatches spread across the pool; the store
// remains the authority through Reserve.
type senderPool struct {
	mu       sync.Mutex
	selector *SenderSelector
	senders  []domain.SenderIdentity
}

func newSenderPool(selector *SenderSelector, senders []domain.SenderIdentity) *senderPool {
	cp := make([]domain.SenderIdentity, len(senders))
	copy(cp, senders)
	return &senderPool{selector: selector, senders: cp}
}

func (p *senderPool) acquire() (domain.SenderIdentity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sender, ok := p.selector.Select(p.senders)
	if !ok {
		return domain.SenderIdentity{}, false
	}
	for i := range p.senders {
		if strings.EqualFold(p.senders[i].Email, sender.Email) {
			p.senders[i].SentToday++
			break
		}
	}
	return sender, true
}

// settle corrects the local count after a dispatch. A deferred outcome means
// the store has no slot left for the sender.
func (p *senderPool) settle(email string, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.senders {
		if !strings.EqualFold(p.senders[i].Email, email) {
			continue
		}
		switch outcome {
		case OutcomeDeferred:
			p.senders[i].SentToday = p.senders[i].DailyLimit
		case OutcomeSent, OutcomePermanentFailure:
		default:
			if p.senders[i].SentToday > 0 {
				p.senders[i].SentToday--
			}
		}
		return
	}
}
