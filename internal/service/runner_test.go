package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/kursadbilgin/sequence-engine/internal/queue"
)

func singleStepStore(contacts int, senders ...domain.SenderIdentity) *memStore {
	store := newMemStore()
	store.addCampaign("c1",
		domain.SequenceStep{StepNumber: 1, Timing: domain.Immediate(), SubjectTemplate: "Hello", BodyTemplate: "Body"},
		domain.SequenceStep{StepNumber: 2, Timing: domain.After(3, domain.UnitDays), SubjectTemplate: "Again", BodyTemplate: "Body"},
	)
	for i := 0; i < contacts; i++ {
		id := fmt.Sprintf("k%02d", i)
		store.addContact(domain.Contact{ID: id, CampaignID: "c1", Email: id + "@example.org", EnrolledAt: t0.Add(-time.Duration(contacts-i) * time.Second)})
	}
	for _, s := range senders {
		s.CampaignID = "c1"
		store.addSender(s)
	}
	return store
}

func activeRecordsPerContact(store *memStore) map[string]int {
	counts := map[string]int{}
	for _, r := range store.allRecords() {
		if r.Status != domain.DeliveryFailed {
			counts[r.ContactID]++
		}
	}
	return counts
}

func TestRunPassInlineSpreadsAcrossSenders(t *testing.T) {
	t.Parallel()

	store := singleStepStore(4, testSender("a@example.com", 0, 10, 90), testSender("b@example.com", 0, 10, 90))
	e := newEngine(t, store, nil)

	summary, err := e.runner.RunPass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if summary.Due != 4 || summary.Outcomes[OutcomeSent] != 4 {
		t.Fatalf("summary = %+v, want 4 due and 4 sent", summary)
	}

	a := store.sender("c1", "a@example.com").SentToday
	b := store.sender("c1", "b@example.com").SentToday
	if a != 2 || b != 2 {
		t.Fatalf("sentToday = %d/%d, want 2/2", a, b)
	}
	for id, n := range activeRecordsPerContact(store) {
		if n != 1 {
			t.Fatalf("contact %s has %d active records, want 1", id, n)
		}
	}
}

func TestRunPassExhaustedSenderDefersWithoutRecords(t *testing.T) {
	t.Parallel()

	store := singleStepStore(1, testSender("a@example.com", 5, 5, 100))
	e := newEngine(t, store, nil)

	summary, err := e.runner.RunPass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if summary.Outcomes[OutcomeDeferred] != 1 || summary.Outcomes[OutcomeSent] != 0 {
		t.Fatalf("outcomes = %v, want one deferred", summary.Outcomes)
	}
	if len(store.allRecords()) != 0 {
		t.Fatal("a deferred contact without a sender must not create a record")
	}
	if got := store.contact("k00").CurrentStep; got != 0 {
		t.Fatalf("currentStep = %d, want 0", got)
	}
}

func TestRunPassStopsAtDailyLimit(t *testing.T) {
	t.Parallel()

	store := singleStepStore(8, testSender("a@example.com", 0, 5, 100))
	e := newEngine(t, store, nil)

	summary, err := e.runner.RunPass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if summary.Outcomes[OutcomeSent] != 5 {
		t.Fatalf("outcomes = %v, want 5 sent", summary.Outcomes)
	}
	if got := store.sender("c1", "a@example.com").SentToday; got != 5 {
		t.Fatalf("sentToday = %d, want 5", got)
	}
	if got := e.mailer.sentCount(); got != 5 {
		t.Fatalf("sent = %d, want 5", got)
	}
}

func TestRunPassIsIdempotent(t *testing.T) {
	t.Parallel()

	store := singleStepStore(10, testSender("a@example.com", 0, 100, 100))
	e := newEngine(t, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.runner.RunPass(context.Background(), "c1"); err != nil {
				t.Errorf("RunPass() error = %v", err)
			}
		}()
	}
	wg.Wait()

	summary, err := e.runner.RunPass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if summary.Due != 0 {
		t.Fatalf("due after passes = %d, want 0", summary.Due)
	}
	if got := e.mailer.sentCount(); got != 10 {
		t.Fatalf("sent = %d, want 10", got)
	}
	counts := activeRecordsPerContact(store)
	if len(counts) != 10 {
		t.Fatalf("contacts with records = %d, want 10", len(counts))
	}
	for id, n := range counts {
		if n != 1 {
			t.Fatalf("contact %s has %d active records, want 1", id, n)
		}
	}
}

func TestRunPassRejectsPausedCampaign(t *testing.T) {
	t.Parallel()

	store := singleStepStore(1, testSender("a@example.com", 0, 10, 100))
	store.mu.Lock()
	c := store.campaigns["c1"]
	c.Status = domain.CampaignPaused
	store.campaigns["c1"] = c
	store.mu.Unlock()
	e := newEngine(t, store, nil)

	if _, err := e.runner.RunPass(context.Background(), "c1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("RunPass() error = %v, want ErrConflict", err)
	}
	if _, err := e.runner.RunPass(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RunPass(missing) error = %v, want ErrNotFound", err)
	}
	if e.mailer.sentCount() != 0 {
		t.Fatal("paused campaign must not send")
	}
}

func TestRunPassQueueModePublishes(t *testing.T) {
	t.Parallel()

	store := singleStepStore(3, testSender("a@example.com", 0, 10, 100))
	e := newEngine(t, store, nil)

	var queues []string
	var mu sync.Mutex
	publisher := &fakePublisher{
		publishFn: func(_ context.Context, queueName string, _ queue.DispatchMessage) error {
			mu.Lock()
			queues = append(queues, queueName)
			mu.Unlock()
			return nil
		},
	}
	e.runner.SetPublisher(publisher)

	summary, err := e.runner.RunPass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if summary.Published != 3 || len(publisher.published) != 3 {
		t.Fatalf("published = %d/%d, want 3", summary.Published, len(publisher.published))
	}
	for _, q := range queues {
		if q != queue.DispatchQueue {
			t.Fatalf("queue = %s, want %s", q, queue.DispatchQueue)
		}
	}
	first := publisher.published[0]
	if first.CampaignID != "c1" || first.ContactID != "k00" || first.StepNumber != 1 || first.CorrelationID == "" {
		t.Fatalf("first message = %+v", first)
	}
	if e.mailer.sentCount() != 0 || len(store.allRecords()) != 0 {
		t.Fatal("queue mode must not dispatch inline")
	}
}

func TestRunPassQueueModeSkipsFailedPublishes(t *testing.T) {
	t.Parallel()

	store := singleStepStore(2, testSender("a@example.com", 0, 10, 100))
	e := newEngine(t, store, nil)
	e.runner.SetPublisher(&fakePublisher{
		publishFn: func(_ context.Context, _ string, msg queue.DispatchMessage) error {
			if msg.ContactID == "k00" {
				return errors.New("channel closed")
			}
			return nil
		},
	})

	summary, err := e.runner.RunPass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if summary.Published != 1 {
		t.Fatalf("published = %d, want 1", summary.Published)
	}
}

func TestRunPassHonorsLock(t *testing.T) {
	t.Parallel()

	store := singleStepStore(2, testSender("a@example.com", 0, 10, 100))
	e := newEngine(t, store, nil)
	locker := &fakeLocker{held: map[string]bool{"campaign-pass:c1": true}}
	e.runner.SetLocker(locker)

	summary, err := e.runner.RunPass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if !summary.Locked || e.mailer.sentCount() != 0 {
		t.Fatalf("summary = %+v, want locked pass without sends", summary)
	}

	locker.mu.Lock()
	delete(locker.held, "campaign-pass:c1")
	locker.mu.Unlock()

	summary, err = e.runner.RunPass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if summary.Locked || summary.Outcomes[OutcomeSent] != 2 {
		t.Fatalf("summary = %+v, want 2 sent", summary)
	}

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if locker.held["campaign-pass:c1"] {
		t.Fatal("pass lock must be released")
	}
}

func TestRunPassLockError(t *testing.T) {
	t.Parallel()

	e := newEngine(t, singleStepStore(1, testSender("a@example.com", 0, 10, 100)), nil)
	e.runner.SetLocker(&fakeLocker{err: errors.New("redis down")})

	if _, err := e.runner.RunPass(context.Background(), "c1"); err == nil {
		t.Fatal("expected lock error")
	}
	if e.mailer.sentCount() != 0 {
		t.Fatal("no sends expected without the lock")
	}
}

func TestRunAllSkipsPausedCampaigns(t *testing.T) {
	t.Parallel()

	store := singleStepStore(2, testSender("a@example.com", 0, 10, 100))
	store.addCampaign("c2", domain.SequenceStep{StepNumber: 1, Timing: domain.Immediate(), SubjectTemplate: "s", BodyTemplate: "b"})
	store.mu.Lock()
	c2 := store.campaigns["c2"]
	c2.Status = domain.CampaignPaused
	store.campaigns["c2"] = c2
	store.mu.Unlock()
	store.addContact(domain.Contact{ID: "p1", CampaignID: "c2", Email: "p1@example.org", EnrolledAt: t0})
	store.addSender(domain.SenderIdentity{CampaignID: "c2", Email: "b@example.com", IsActive: true, IsSelected: true, DailyLimit: 10})
	e := newEngine(t, store, nil)

	if err := e.runner.RunAll(context.Background()); err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if got := e.mailer.sentCount(); got != 2 {
		t.Fatalf("sent = %d, want 2", got)
	}
	if got := store.contact("p1").CurrentStep; got != 0 {
		t.Fatalf("paused campaign contact advanced to %d", got)
	}
}

func TestPassLockTTL(t *testing.T) {
	t.Parallel()

	e := newEngine(t, newMemStore(), nil)
	e.runner.interval = time.Minute
	if got := e.runner.passLockTTL(); got != 5*time.Minute {
		t.Fatalf("passLockTTL() = %v, want 5m", got)
	}
	e.runner.interval = 10 * time.Minute
	if got := e.runner.passLockTTL(); got != 20*time.Minute {
		t.Fatalf("passLockTTL() = %v, want 20m", got)
	}
}

func TestSenderPoolSettle(t *testing.T) {
	t.Parallel()

	pool := newSenderPool(NewSenderSelector(0), []domain.SenderIdentity{testSender("a@example.com", 0, 2, 100)})

	first, ok := pool.acquire()
	if !ok || first.Email != "a@example.com" {
		t.Fatalf("acquire() = %v, %v", first.Email, ok)
	}
	pool.settle(first.Email, OutcomeTransientFailure)
	if got := pool.senders[0].SentToday; got != 0 {
		t.Fatalf("sentToday after transient = %d, want 0", got)
	}

	_, _ = pool.acquire()
	pool.settle("a@example.com", OutcomeSent)
	if got := pool.senders[0].SentToday; got != 1 {
		t.Fatalf("sentToday after sent = %d, want 1", got)
	}

	_, _ = pool.acquire()
	pool.settle("a@example.com", OutcomeDeferred)
	if got := pool.senders[0].SentToday; got != 2 {
		t.Fatalf("sentToday after deferred = %d, want 2", got)
	}
	if _, ok := pool.acquire(); ok {
		t.Fatal("exhausted pool must not hand out a sender")
	}
}
