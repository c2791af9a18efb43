package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// smtpReplyCode finds the reply code in errors that gomail flattens to text.
var smtpReplyCode = regexp.MustCompile(`\b([245])(\d\d)\b`)

type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer delivers through an authenticated SMTP relay.
type SMTPMailer struct {
	dialer smtpDialer
	domain string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}

	dialer := gomail.NewDialer(host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}

	return &SMTPMailer{dialer: dialer, domain: host}, nil
}

func (m *SMTPMailer) Name() string { return "smtp" }

// Send runs the blocking SMTP exchange in a goroutine so the caller's
// deadline still bounds the call. An abandoned exchange may complete later.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if m == nil || m.dialer == nil {
		return nil, errNotInitialized
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.domain)

	gm := gomail.NewMessage()
	if msg.FromName != "" {
		gm.SetAddressHeader("From", msg.From, msg.FromName)
	} else {
		gm.SetHeader("From", msg.From)
	}
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-ID", messageID)
	for k, v := range msg.Headers {
		gm.SetHeader(k, v)
	}
	gm.SetBody("text/html", msg.Body)

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(gm)
	}()

	select {
	case <-ctx.Done():
		return nil, &ProviderError{
			Message:   "smtp send interrupted",
			Transient: !errors.Is(ctx.Err(), context.Canceled),
			Cause:     ctx.Err(),
		}
	case err := <-done:
		if err != nil {
			return nil, classifySMTPError(err)
		}
		return &SendResult{MessageID: messageID}, nil
	}
}

// classifySMTPError maps 5xx replies to permanent failures and 4xx replies
// and connection problems to transient ones.
// isTransientSMTPCode keeps 4xx replies and the 5xx authentication
// failures retryable. Only other 5xx replies reject the recipient.
func isTransientSMTPCode(code int) bool {
	switch code {
	case 530, 534, 535, 538:
		return true
	}
	return code < 500
}

func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &ProviderError{
			StatusCode: protoErr.Code,
			Message:    "smtp server rejected message",
			Transient:  isTransientSMTPCode(protoErr.Code),
			Cause:      err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient("smtp connection failed", err)
	}

	if match := smtpReplyCode.FindStringSubmatch(err.Error()); match != nil {
		code, _ := strconv.Atoi(match[1] + match[2])
		return &ProviderError{
			StatusCode: code,
			Message:    "smtp server rejected message",
			Transient:  isTransientSMTPCode(code),
			Cause:      err,
		}
	}

	return Transient("smtp send failed", err)
}
