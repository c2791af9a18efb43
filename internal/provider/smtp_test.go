package provider

import (
	"context"
	"errors"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sendFn func(m ...*gomail.Message) error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.sendFn != nil {
		return d.sendFn(m...)
	}
	return nil
}

func TestSMTPMailerSendSuccess(t *testing.T) {
	t.Parallel()

	var got *gomail.Message
	m := &SMTPMailer{
		dialer: &fakeDialer{sendFn: func(msgs ...*gomail.Message) error {
			got = msgs[0]
			return nil
		}},
		domain: "smtp.example.com",
	}

	resp, err := m.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if !strings.HasSuffix(resp.MessageID, "@smtp.example.com>") {
		t.Fatalf("MessageID = %q, want smtp.example.com domain", resp.MessageID)
	}
	if to := got.GetHeader("To"); len(to) != 1 || to[0] != "ada@example.org" {
		t.Fatalf("To header = %v", to)
	}
	if id := got.GetHeader("Message-ID"); len(id) != 1 || id[0] != resp.MessageID {
		t.Fatalf("Message-ID header = %v, want %s", id, resp.MessageID)
	}
}

func TestSMTPMailerSendHonoursDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	m := &SMTPMailer{
		dialer: &fakeDialer{sendFn: func(msgs ...*gomail.Message) error {
			<-release
			return nil
		}},
		domain: "smtp.example.com",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Send(ctx, testMessage())
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestClassifySMTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantCode      int
	}{
		{name: "mailbox unavailable", err: &textproto.Error{Code: 550, Msg: "no such user"}, wantCode: 550},
		{name: "authentication failed", err: &textproto.Error{Code: 535, Msg: "bad credentials"}, wantTransient: true, wantCode: 535},
		{name: "flattened authentication failure", err: errors.New("gomail: could not send email 1: 535 5.7.8 auth failed"), wantTransient: true, wantCode: 535},
		{name: "greylisted", err: &textproto.Error{Code: 451, Msg: "try later"}, wantTransient: true, wantCode: 451},
		{name: "flattened permanent", err: errors.New("gomail: could not send email 1: 553 5.1.3 bad recipient"), wantCode: 553},
		{name: "flattened transient", err: errors.New("gomail: could not send email 1: 421 service not available"), wantTransient: true, wantCode: 421},
		{name: "unknown", err: errors.New("boom"), wantTransient: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := classifySMTPError(tt.err)
			if got := IsTransient(err); got != tt.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tt.wantTransient)
			}
			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tt.wantCode {
				t.Fatalf("StatusCode = %d, want %d", providerErr.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestNewSMTPMailerRequiresHost(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTPMailer(SMTPConfig{}); err == nil {
		t.Fatal("expected error for empty host")
	}
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"})
	if err != nil {
		t.Fatalf("NewSMTPMailer() error = %v", err)
	}
	if m.Name() != "smtp" {
		t.Fatalf("Name() = %q, want smtp", m.Name())
	}
}
