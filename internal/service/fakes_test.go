package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/provider"
	"github.com/kursadbilgin/sequence-engine/internal/queue"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
)

// memStore is an in-memory store with the same atomic claim and reserve
// guarantees as the Postgres repositories.
type memStore struct {
	mu        sync.Mutex
	campaigns map[string]domain.Campaign
	steps     map[string][]domain.SequenceStep
	contacts  map[string]domain.Contact
	senders   map[string][]domain.SenderIdentity
	records   []domain.DeliveryRecord
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[string]domain.Campaign{},
		steps:     map[string][]domain.SequenceStep{},
		contacts:  map[string]domain.Contact{},
		senders:   map[string][]domain.SenderIdentity{},
	}
}

func (m *memStore) addCampaign(id string, steps ...domain.SequenceStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id] = domain.Campaign{ID: id, Name: id, Status: domain.CampaignActive}
	for i := range steps {
		steps[i].CampaignID = id
	}
	m.steps[id] = steps
}

func (m *memStore) setWindow(campaignID string, window domain.SendWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[campaignID]
	c.SendWindow = window
	m.campaigns[campaignID] = c
}

func (m *memStore) addContact(c domain.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Status == "" {
		c.Status = domain.ContactActive
	}
	m.contacts[c.ID] = c
}

func (m *memStore) addSender(s domain.SenderIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[s.CampaignID] = append(m.senders[s.CampaignID], s)
}

func (m *memStore) contact(id string) domain.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contacts[id]
}

func (m *memStore) sender(campaignID, email string) domain.SenderIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.senders[campaignID] {
		if strings.EqualFold(s.Email, email) {
			return s
		}
	}
	return domain.SenderIdentity{}
}

func (m *memStore) recordsFor(contactID string, step int) []domain.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, r := range m.records {
		if r.ContactID == contactID && r.StepNumber == step {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) allRecords() []domain.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DeliveryRecord, len(m.records))
	copy(out, m.records)
	return out
}

type memCampaigns struct{ *memStore }

func (m memCampaigns) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m memCampaigns) ListActive(context.Context) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memSequences struct{ *memStore }

func (m memSequences) GetSequence(_ context.Context, campaignID string) (domain.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := domain.NewSequence(campaignID, m.steps[campaignID])
	seq.Window = m.campaigns[campaignID].SendWindow
	return seq, nil
}

type memContacts struct{ *memStore }

func (m memContacts) GetByID(_ context.Context, id string) (*domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m memContacts) ListActive(_ context.Context, campaignID string) ([]domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Contact
	for _, c := range m.contacts {
		if c.CampaignID == campaignID && c.Status == domain.ContactActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m memContacts) Advance(_ context.Context, id string, fromStep int, contactedAt time.Time, complete bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.CurrentStep != fromStep || c.Status != domain.ContactActive {
		return false, nil
	}
	c.CurrentStep = fromStep + 1
	at := contactedAt
	c.LastContactedAt = &at
	if complete {
		c.Status = domain.ContactCompleted
	}
	m.contacts[id] = c
	return true, nil
}

func (m memContacts) SetTerminal(_ context.Context, id string, status domain.ContactStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, domain.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.Status != domain.ContactActive {
		return false, nil
	}
	c.Status = status
	m.contacts[id] = c
	return true, nil
}

type memSenders struct{ *memStore }

func (m memSenders) ListByCampaign(_ context.Context, campaignID string) ([]domain.SenderIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SenderIdentity, len(m.senders[campaignID]))
	copy(out, m.senders[campaignID])
	return out, nil
}

func (m memSenders) Reserve(_ context.Context, campaignID string, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.senders[campaignID] {
		if strings.EqualFold(s.Email, email) {
			if !s.Eligible() {
				return false, nil
			}
			m.senders[campaignID][i].SentToday++
			return true, nil
		}
	}
	return false, nil
}

func (m memSenders) Release(_ context.Context, campaignID string, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.senders[campaignID] {
		if strings.EqualFold(s.Email, email) && s.SentToday > 0 {
			m.senders[campaignID][i].SentToday--
		}
	}
	return nil
}

func (m memSenders) ResetAll(_ context.Context, campaignID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.senders[campaignID] {
		if m.senders[campaignID][i].SentToday != 0 {
			m.senders[campaignID][i].SentToday = 0
			n++
		}
	}
	return n, nil
}

func (m memSenders) ResetAllCampaigns(ctx context.Context) (int64, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.senders))
	for id := range m.senders {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var total int64
	for _, id := range ids {
		n, _ := m.ResetAll(ctx, id)
		total += n
	}
	return total, nil
}

func (m memSenders) UpdateHealthScore(_ context.Context, campaignID string, email string, score float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.senders[campaignID] {
		if strings.EqualFold(s.Email, email) {
			m.senders[campaignID][i].HealthScore = score
			m.senders[campaignID][i].HealthUpdatedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

type memDeliveries struct {
	*memStore
	stats []repository.SenderStats
}

func (m *memDeliveries) Claim(_ context.Context, record *domain.DeliveryRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.CampaignID == record.CampaignID && r.ContactID == record.ContactID &&
			r.StepNumber == record.StepNumber && r.Status != domain.DeliveryFailed {
			return false, nil
		}
	}
	record.Status = domain.DeliveryClaimed
	m.records = append(m.records, *record)
	return true, nil
}

func (m *memDeliveries) update(id string, fn func(r *domain.DeliveryRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			if m.records[i].Status != domain.DeliveryClaimed {
				return domain.ErrConflict
			}
			fn(&m.records[i])
			return nil
		}
	}
	return domain.ErrConflict
}

func (m *memDeliveries) MarkSent(_ context.Context, id string, sentAt time.Time, messageID string) error {
	return m.update(id, func(r *domain.DeliveryRecord) {
		r.Status = domain.DeliverySent
		at := sentAt
		r.SentAt = &at
		if messageID != "" {
			mid := messageID
			r.MessageID = &mid
		}
	})
}

func (m *memDeliveries) MarkFailed(_ context.Context, id string, kind domain.FailureKind, reason string) error {
	return m.update(id, func(r *domain.DeliveryRecord) {
		r.Status = domain.DeliveryFailed
		k := kind
		r.FailureKind = &k
		rs := reason
		r.FailureReason = &rs
	})
}

func (m *memDeliveries) GetByMessageID(_ context.Context, messageID string) (*domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.MessageID != nil && *r.MessageID == messageID {
			rec := r
			return &rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memDeliveries) ApplyTrackingEvent(_ context.Context, event domain.TrackingEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		r := &m.records[i]
		if r.MessageID == nil || *r.MessageID != event.MessageID || r.Status != domain.DeliverySent {
			continue
		}
		at := event.OccurredAt
		var field **time.Time
		switch event.Type {
		case domain.EventOpen:
			field = &r.OpenedAt
		case domain.EventClick:
			field = &r.ClickedAt
		case domain.EventBounce:
			field = &r.BouncedAt
		default:
			return false, nil
		}
		if *field != nil {
			return false, nil
		}
		*field = &at
		return true, nil
	}
	return false, nil
}

func (m *memDeliveries) ListByContact(_ context.Context, contactID string) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, r := range m.records {
		if r.ContactID == contactID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memDeliveries) SenderStats(context.Context, string, time.Time) ([]repository.SenderStats, error) {
	return m.stats, nil
}

func (m *memDeliveries) FailStaleClaims(_ context.Context, claimedBefore time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.records {
		if int(n) >= limit {
			break
		}
		if m.records[i].Status == domain.DeliveryClaimed && m.records[i].ClaimedAt.Before(claimedBefore) {
			m.records[i].Status = domain.DeliveryFailed
			k := domain.FailureAbandoned
			m.records[i].FailureKind = &k
			n++
		}
	}
	return n, nil
}

type fakeMailer struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg provider.Message) (*provider.SendResult, error)
	sent   []provider.Message
	seq    int
}

func (f *fakeMailer) Name() string { return "fake" }

func (f *fakeMailer) Send(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
	if f.sendFn != nil {
		res, err := f.sendFn(ctx, msg)
		if err == nil {
			f.mu.Lock()
			f.sent = append(f.sent, msg)
			f.mu.Unlock()
		}
		return res, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	f.seq++
	return &provider.SendResult{MessageID: fmt.Sprintf("msg-%d", f.seq)}, nil
}

func (f *fakeMailer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, queueName string, msg queue.DispatchMessage) error
	published []queue.DispatchMessage
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	err      error
}

func (f *fakeLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return nil, false, nil
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
		return nil
	}, true, nil
}

// engine wires the real scheduler, selector, quota manager and dispatcher
// over a memStore with a controllable clock.
type engine struct {
	store      *memStore
	deliveries *memDeliveries
	mailer     *fakeMailer
	scheduler  *DueScheduler
	dispatcher *Dispatcher
	runner     *CampaignRunner
	clock      *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
