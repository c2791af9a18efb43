package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"go.uber.org/zap"
)

// SimulatedMailer accepts every message without delivering it. It is
// selected explicitly through configuration, never detected at send time.
type SimulatedMailer struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []Message
}

func NewSimulatedMailer(logger *zap.Logger) *SimulatedMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedMailer{logger: logger}
}

func (m *SimulatedMailer) Name() string { return "simulated" }

func (m *SimulatedMailer) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("simulated send aborted", err)
	}

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	messageID := "sim-" + uuid.NewString()
	m.logger.Debug("simulated send",
		zap.String("messageId", messageID),
		observability.Email("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return &SendResult{MessageID: messageID}, nil
}

// Sent returns a copy of every accepted message.
func (m *SimulatedMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
