package provider

import "context"

// Mailer is the outbound mail-send capability. Implementations return a
// *ProviderError so callers can tell transient from permanent failures.
type Mailer interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
	Name() string
}

// Message is one rendered sequence step addressed to one contact.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string
	Headers  map[string]string
}

// SendResult stores provider call metadata for the delivery ledger.
type SendResult struct {
	MessageID  string
	StatusCode int
}
