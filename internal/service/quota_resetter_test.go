package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type resetStoreFunc func(ctx context.Context) (int64, error)

func (f resetStoreFunc) ResetAllCampaigns(ctx context.Context) (int64, error) { return f(ctx) }

func TestNextReset(t *testing.T) {
	t.Parallel()

	plus3 := time.FixedZone("UTC+3", 3*60*60)

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "morning utc",
			now:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly midnight moves to next day",
			now:  time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "local day already rolled over",
			now:  time.Date(2026, 3, 2, 22, 30, 0, 0, time.UTC),
			loc:  plus3,
			want: time.Date(2026, 3, 4, 0, 0, 0, 0, plus3),
		},
		{
			name: "end of month",
			now:  time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := NextReset(tt.now, tt.loc); !got.Equal(tt.want) {
				t.Fatalf("NextReset() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResetForRunsOncePerDay(t *testing.T) {
	t.Parallel()

	calls := 0
	store := resetStoreFunc(func(context.Context) (int64, error) {
		calls++
		return 3, nil
	})
	locker := &fakeLocker{}
	r, err := NewQuotaResetter(store, locker, time.UTC, nil)
	if err != nil {
		t.Fatalf("NewQuotaResetter() error = %v", err)
	}

	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if ran, err := r.ResetFor(context.Background(), day); err != nil || !ran {
		t.Fatalf("first ResetFor() = %v, %v, want true", ran, err)
	}
	if ran, err := r.ResetFor(context.Background(), day); err != nil || ran {
		t.Fatalf("second ResetFor() = %v, %v, want false", ran, err)
	}
	if ran, err := r.ResetFor(context.Background(), day.Add(24*time.Hour)); err != nil || !ran {
		t.Fatalf("next day ResetFor() = %v, %v, want true", ran, err)
	}
	if calls != 2 {
		t.Fatalf("store calls = %d, want 2", calls)
	}
	if locker.acquired[0] != "quota-reset:2026-03-03" {
		t.Fatalf("lock key = %s", locker.acquired[0])
	}
}

func TestResetForReleasesLockOnFailure(t *testing.T) {
	t.Parallel()

	fail := true
	store := resetStoreFunc(func(context.Context) (int64, error) {
		if fail {
			fail = false
			return 0, errors.New("db down")
		}
		return 1, nil
	})
	r, err := NewQuotaResetter(store, &fakeLocker{}, time.UTC, nil)
	if err != nil {
		t.Fatalf("NewQuotaResetter() error = %v", err)
	}

	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if _, err := r.ResetFor(context.Background(), day); err == nil {
		t.Fatal("expected store error")
	}
	if ran, err := r.ResetFor(context.Background(), day); err != nil || !ran {
		t.Fatalf("retry ResetFor() = %v, %v, want true", ran, err)
	}
}

func TestResetForLockError(t *testing.T) {
	t.Parallel()

	store := resetStoreFunc(func(context.Context) (int64, error) {
		t.Fatal("store must not be called without the lock")
		return 0, nil
	})
	r, _ := NewQuotaResetter(store, &fakeLocker{err: errors.New("redis down")}, nil, nil)

	if _, err := r.ResetFor(context.Background(), time.Now()); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestQuotaResetterStartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	store := resetStoreFunc(func(context.Context) (int64, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("db down")
		}
		cancel()
		return 2, nil
	})

	r, err := NewQuotaResetter(store, nil, time.UTC, nil)
	if err != nil {
		t.Fatalf("NewQuotaResetter() error = %v", err)
	}
	now := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	var mu sync.Mutex
	var waits []time.Duration
	r.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		if len(waits) > 2 {
			return make(chan time.Time)
		}
		ch := make(chan time.Time, 1)
		ch <- now.Add(d)
		return ch
	}

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	mu.Lock()
	defer mu.Unlock()
	if waits[0] != time.Hour {
		t.Fatalf("first wait = %v, want 1h until midnight", waits[0])
	}
	if waits[1] != quotaResetRetryDelay {
		t.Fatalf("retry wait = %v, want %v", waits[1], quotaResetRetryDelay)
	}
}

func TestNewQuotaResetterRequiresStore(t *testing.T) {
	t.Parallel()

	if _, err := NewQuotaResetter(nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}
