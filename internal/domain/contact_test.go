package domain

import (
	"errors"
	"testing"
)

func TestContactStatusTerminal(t *testing.T) {
	t.Parallel()

	if ContactActive.IsTerminal() {
		t.Fatal("active must not be terminal")
	}
	for _, st := range []ContactStatus{ContactCompleted, ContactReplied, ContactUnsubscribed, ContactBounced} {
		if !st.IsTerminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
	if ContactStatus("archived").IsTerminal() {
		t.Fatal("unknown status must not be terminal")
	}
}

func TestParseContactStatus(t *testing.T) {
	t.Parallel()

	got, err := ParseContactStatus(" Replied ")
	if err != nil {
		t.Fatalf("ParseContactStatus() unexpected error = %v", err)
	}
	if got != ContactReplied {
		t.Fatalf("ParseContactStatus() = %s, want %s", got, ContactReplied)
	}

	if _, err := ParseContactStatus("paused"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseContactStatus() error = %v, want ErrValidation", err)
	}
}

func TestContactTemplateDataKeepsReservedFields(t *testing.T) {
	t.Parallel()

	c := Contact{
		Email:     "ada@example.com",
		FirstName: "Ada",
		Variables: map[string]string{"first_name": "override", "role": "CTO"},
	}

	data := c.TemplateData()
	if data["first_name"] != "Ada" {
		t.Fatalf("first_name = %v, want Ada", data["first_name"])
	}
	if data["role"] != "CTO" {
		t.Fatalf("role = %v, want CTO", data["role"])
	}
}

func TestSenderIdentityEligible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sender SenderIdentity
		want   bool
	}{
		{name: "eligible", sender: SenderIdentity{IsActive: true, IsSelected: true, DailyLimit: 5, SentToday: 4}, want: true},
		{name: "quota exhausted", sender: SenderIdentity{IsActive: true, IsSelected: true, DailyLimit: 5, SentToday: 5}},
		{name: "inactive", sender: SenderIdentity{IsSelected: true, DailyLimit: 5}},
		{name: "not selected", sender: SenderIdentity{IsActive: true, DailyLimit: 5}},
		{name: "zero limit", sender: SenderIdentity{IsActive: true, IsSelected: true}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.sender.Eligible(); got != tt.want {
				t.Fatalf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTrackingEventType(t *testing.T) {
	t.Parallel()

	tests := map[string]TrackingEventType{
		"open":        EventOpen,
		"Clicked":     EventClick,
		"blocked":     EventBounce,
		"spam_report": EventUnsubscribe,
		"replied":     EventReply,
	}
	for input, want := range tests {
		got, err := ParseTrackingEventType(input)
		if err != nil {
			t.Fatalf("ParseTrackingEventType(%q) unexpected error = %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseTrackingEventType(%q) = %s, want %s", input, got, want)
		}
	}

	if _, err := ParseTrackingEventType("processed"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseTrackingEventType() error = %v, want ErrValidation", err)
	}
}
