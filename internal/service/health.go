package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultHealthInterval   = time.Hour
	defaultHealthWindowDays = 30

	neutralHealthScore = 100

	highBounceRate    = 0.05
	lowOpenRate       = 0.20
	lowVolumeAttempts = 10
)

// HealthWeights are the coefficients of the health score formula.
type HealthWeights struct {
	Delivery float64
	Open     float64
	Bounce   float64
}

func DefaultHealthWeights() HealthWeights {
	return HealthWeights{Delivery: 0.6, Open: 0.4, Bounce: 1.0}
}

// HealthReport is the scored reputation of one sender over the window.
type HealthReport struct {
	SenderEmail     string   `json:"senderEmail"`
	Score           float64  `json:"score"`
	Band            string   `json:"band"`
	Attempted       int64    `json:"attempted"`
	Delivered       int64    `json:"delivered"`
	Opened          int64    `json:"opened"`
	Bounces         int64    `json:"bounces"`
	DeliveryRate    float64  `json:"deliveryRate"`
	OpenRate        float64  `json:"openRate"`
	BounceRate      float64  `json:"bounceRate"`
	Recommendations []string `json:"recommendations"`
}

// CalculateHealth scores a sender from its ledger counts:
//
//	score = 100 * (w.Delivery*deliveryRate + w.Open*openRate - w.Bounce*bounceRate)
//
// clamped to [0, 100]. Rejected sends count as attempted and bounced. A
// sender with no attempts gets the neutral score.
func CalculateHealth(stats repository.SenderStats, w HealthWeights) HealthReport {
	attempted := stats.Sent + stats.Rejected
	bounces := stats.Bounced + stats.Rejected
	if bounces > attempted {
		bounces = attempted
	}
	delivered := attempted - bounces
	opened := stats.Opened
	if opened > delivered {
		opened = delivered
	}

	report := HealthReport{
		SenderEmail: stats.SenderEmail,
		Attempted:   attempted,
		Delivered:   delivered,
		Opened:      opened,
		Bounces:     bounces,
	}

	if attempted == 0 {
		report.Score = neutralHealthScore
	} else {
		report.DeliveryRate = ratio(delivered, attempted)
		report.OpenRate = ratio(opened, delivered)
		report.BounceRate = ratio(bounces, attempted)

		raw := 100 * (w.Delivery*report.DeliveryRate + w.Open*report.OpenRate - w.Bounce*report.BounceRate)
		report.Score = math.Round(clamp(raw, 0, 100)*10) / 10
	}

	report.Band = HealthBand(report.Score)
	report.Recommendations = healthRecommendations(report)
	return report
}

// HealthBand names the score range a sender falls into.
func HealthBand(score float64) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 80:
		return "good"
	case score >= 70:
		return "fair"
	case score >= 60:
		return "poor"
	default:
		return "critical"
	}
}

func healthRecommendations(r HealthReport) []string {
	var out []string
	if r.BounceRate > highBounceRate {
		out = append(out, "Reduce bounce rate by cleaning contact lists and validating addresses")
	}
	if r.Delivered > 0 && r.OpenRate < lowOpenRate {
		out = append(out, "Improve subject lines and content to increase open rates")
	}
	if r.Attempted < lowVolumeAttempts {
		out = append(out, "Keep sending volume consistent to build reputation")
	}
	if len(out) == 0 {
		out = append(out, "Sender is performing well")
	}
	return out
}

func ratio(n, d int64) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// HealthRecomputer periodically rescores every sender of every active
// campaign. Scores are advisory and are not read on the send path except by
// the optional selector threshold.
type HealthRecomputer struct {
	campaigns  repository.CampaignRepository
	senders    repository.SenderRepository
	deliveries repository.DeliveryRepository
	weights    HealthWeights
	window     time.Duration
	interval   time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewHealthRecomputer(
	campaigns repository.CampaignRepository,
	senders repository.SenderRepository,
	deliveries repository.DeliveryRepository,
	weights HealthWeights,
	windowDays int,
	interval time.Duration,
	logger *zap.Logger,
) (*HealthRecomputer, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if senders == nil {
		return nil, fmt.Errorf("sender repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if weights == (HealthWeights{}) {
		weights = DefaultHealthWeights()
	}
	if windowDays <= 0 {
		windowDays = defaultHealthWindowDays
	}
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthRecomputer{
		campaigns:  campaigns,
		senders:    senders,
		deliveries: deliveries,
		weights:    weights,
		window:     time.Duration(windowDays) * 24 * time.Hour,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (h *HealthRecomputer) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

func (h *HealthRecomputer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := h.RecomputeAll(ctx); err != nil && ctx.Err() == nil {
		h.logger.Error("health recompute failed", zap.Error(err))
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.RecomputeAll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				h.logger.Error("health recompute failed", zap.Error(err))
			}
		}
	}
}

func (h *HealthRecomputer) RecomputeAll(ctx context.Context) error {
	campaigns, err := h.campaigns.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active campaigns: %w", err)
	}

	for _, campaign := range campaigns {
		if _, err := h.RecomputeCampaign(ctx, campaign.ID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Error("campaign health recompute failed",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Evaluate scores every sender of the campaign without persisting.
func (h *HealthRecomputer) Evaluate(ctx context.Context, campaignID string) ([]HealthReport, error) {
	senders, err := h.senders.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}

	stats, err := h.deliveries.SenderStats(ctx, campaignID, h.now().Add(-h.window))
	if err != nil {
		return nil, fmt.Errorf("failed to load sender stats: %w", err)
	}
	bySender := make(map[string]repository.SenderStats, len(stats))
	for _, s := range stats {
		bySender[strings.ToLower(s.SenderEmail)] = s
	}

	reports := make([]HealthReport, 0, len(senders))
	for _, sender := range senders {
		email := strings.ToLower(sender.Email)
		s := bySender[email]
		s.SenderEmail = sender.Email
		reports = append(reports, CalculateHealth(s, h.weights))
	}
	return reports, nil
}

// RecomputeCampaign scores and stores the health of every sender in the campaign.
func (h *HealthRecomputer) RecomputeCampaign(ctx context.Context, campaignID string) ([]HealthReport, error) {
	reports, err := h.Evaluate(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	at := h.now().UTC()
	for _, report := range reports {
		if err := h.senders.UpdateHealthScore(ctx, campaignID, report.SenderEmail, report.Score, at); err != nil {
			return reports, fmt.Errorf("failed to store health score: %w", err)
		}
		h.metrics.SetSenderHealthScore(campaignID, report.SenderEmail, report.Score)
		h.logger.Debug("sender health updated",
			zap.String("campaignId", campaignID),
			observability.Email("sender", report.SenderEmail),
			zap.Float64("score", report.Score),
			zap.String("band", report.Band),
		)
	}
	return reports, nil
}
