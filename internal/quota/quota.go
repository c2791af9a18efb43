package quota

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"go.uber.org/zap"
)

// Store holds the per-sender warm-up counters. Reserve must be a single
// atomic conditional increment that never lets sent_today pass daily_limit.
type Store interface {
	Reserve(ctx context.Context, campaignID string, email string) (bool, error)
	Release(ctx context.Context, campaignID string, email string) error
	ResetAll(ctx context.Context, campaignID string) (int64, error)
	ResetAllCampaigns(ctx context.Context) (int64, error)
}

// Manager is the warm-up quota manager used by the dispatcher and the
// daily reset trigger.
type Manager struct {
	store   Store
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewManager(store Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("quota store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{store: store, logger: logger}, nil
}

func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// Reserve takes one slot for sender. False means the sender is at its daily
// limit (or no longer eligible) and the caller should defer.
func (m *Manager) Reserve(ctx context.Context, campaignID string, sender string) (bool, error) {
	sender = normalizeSender(sender)
	if campaignID == "" || sender == "" {
		return false, fmt.Errorf("campaign id and sender are required")
	}

	granted, err := m.store.Reserve(ctx, campaignID, sender)
	if err != nil {
		return false, fmt.Errorf("failed to reserve quota: %w", err)
	}

	m.metrics.IncQuotaReservation(granted)
	if !granted {
		m.logger.Debug("quota exhausted",
			zap.String("campaignId", campaignID),
			observability.Email("sender", sender),
		)
	}
	return granted, nil
}

// Release gives back a slot taken by Reserve for a send that never left.
func (m *Manager) Release(ctx context.Context, campaignID string, sender string) error {
	sender = normalizeSender(sender)
	if err := m.store.Release(ctx, campaignID, sender); err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	return nil
}

func (m *Manager) ResetAll(ctx context.Context, campaignID string) (int64, error) {
	if strings.TrimSpace(campaignID) == "" {
		return 0, fmt.Errorf("campaign id is required")
	}

	n, err := m.store.ResetAll(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset quota for campaign %s: %w", campaignID, err)
	}

	m.metrics.IncQuotaReset()
	m.logger.Info("quota reset",
		zap.String("campaignId", campaignID),
		zap.Int64("senders", n),
	)
	return n, nil
}

func (m *Manager) ResetAllCampaigns(ctx context.Context) (int64, error) {
	n, err := m.store.ResetAllCampaigns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reset quota: %w", err)
	}

	m.metrics.IncQuotaReset()
	m.logger.Info("quota reset for all campaigns", zap.Int64("senders", n))
	return n, nil
}

func normalizeSender(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}
