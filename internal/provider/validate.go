package provider

import (
	"context"
	"strings"

	"github.com/badoux/checkmail"
)

// addressValidatingMailer rejects malformed recipient addresses before any
// network call, so a typo bounces the contact instead of burning quota on a
// provider round trip.
type addressValidatingMailer struct {
	next Mailer
}

func WithAddressValidation(next Mailer) Mailer {
	return &addressValidatingMailer{next: next}
}

func (m *addressValidatingMailer) Name() string { return m.next.Name() }

func (m *addressValidatingMailer) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if err := checkmail.ValidateFormat(strings.TrimSpace(msg.To)); err != nil {
		return nil, Permanent("invalid recipient address", err)
	}
	if err := checkmail.ValidateFormat(strings.TrimSpace(msg.From)); err != nil {
		return nil, Transient("invalid sender address", err)
	}
	return m.next.Send(ctx, msg)
}
