package service

import (
	"testing"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
)

func testSender(email string, sent, limit int, health float64) domain.SenderIdentity {
	return domain.SenderIdentity{
		CampaignID:  "c1",
		Email:       email,
		IsActive:    true,
		IsSelected:  true,
		DailyLimit:  limit,
		SentToday:   sent,
		HealthScore: health,
	}
}

func TestSenderSelectorSelect(t *testing.T) {
	t.Parallel()

	inactive := testSender("inactive@example.com", 0, 10, 100)
	inactive.IsActive = false
	unselected := testSender("unselected@example.com", 0, 10, 100)
	unselected.IsSelected = false

	tests := []struct {
		name      string
		minHealth float64
		senders   []domain.SenderIdentity
		want      string
		wantOK    bool
	}{
		{
			name:    "lowest load ratio wins",
			senders: []domain.SenderIdentity{testSender("a@example.com", 5, 10, 100), testSender("b@example.com", 1, 10, 50)},
			want:    "b@example.com",
			wantOK:  true,
		},
		{
			name:    "ratio not raw count",
			senders: []domain.SenderIdentity{testSender("a@example.com", 4, 40, 80), testSender("b@example.com", 2, 10, 80)},
			want:    "a@example.com",
			wantOK:  true,
		},
		{
			name:    "equal ratio prefers higher health",
			senders: []domain.SenderIdentity{testSender("a@example.com", 1, 10, 70), testSender("b@example.com", 2, 20, 90)},
			want:    "b@example.com",
			wantOK:  true,
		},
		{
			name:    "full tie breaks on email",
			senders: []domain.SenderIdentity{testSender("z@example.com", 0, 10, 90), testSender("m@example.com", 0, 10, 90)},
			want:    "m@example.com",
			wantOK:  true,
		},
		{
			name:    "ineligible senders ignored",
			senders: []domain.SenderIdentity{inactive, unselected, testSender("zero@example.com", 0, 0, 100), testSender("ok@example.com", 9, 10, 10)},
			want:    "ok@example.com",
			wantOK:  true,
		},
		{
			name:    "exhausted pool",
			senders: []domain.SenderIdentity{testSender("a@example.com", 5, 5, 100)},
			wantOK:  false,
		},
		{
			name:    "empty pool",
			wantOK:  false,
		},
		{
			name:      "health threshold",
			minHealth: 60,
			senders:   []domain.SenderIdentity{testSender("low@example.com", 0, 10, 40), testSender("high@example.com", 8, 10, 75)},
			want:      "high@example.com",
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := NewSenderSelector(tt.minHealth).Select(tt.senders)
			if ok != tt.wantOK {
				t.Fatalf("Select() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.Email != tt.want {
				t.Fatalf("Select() = %s, want %s", got.Email, tt.want)
			}
		})
	}
}

func TestSenderSelectorIsDeterministic(t *testing.T) {
	t.Parallel()

	pool := []domain.SenderIdentity{
		testSender("c@example.com", 3, 10, 80),
		testSender("a@example.com", 3, 10, 80),
		testSender("b@example.com", 3, 10, 80),
	}
	selector := NewSenderSelector(0)
	for i := 0; i < 5; i++ {
		pool[0], pool[2] = pool[2], pool[0]
		got, _ := selector.Select(pool)
		if got.Email != "a@example.com" {
			t.Fatalf("Select() = %s, want a@example.com", got.Email)
		}
	}
}
