package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"gorm.io/gorm"
)

// SenderStats aggregates ledger outcomes for one sender over a window.
type SenderStats struct {
	SenderEmail string `gorm:"column:sender_email"`
	Sent        int64  `gorm:"column:sent"`
	Bounced     int64  `gorm:"column:bounced"`
	Opened      int64  `gorm:"column:opened"`
	Clicked     int64  `gorm:"column:clicked"`
	Rejected    int64  `gorm:"column:rejected"`
}

type DeliveryRepository interface {
	Claim(ctx context.Context, record *domain.DeliveryRecord) (bool, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, messageID string) error
	MarkFailed(ctx context.Context, id string, kind domain.FailureKind, reason string) error
	GetByMessageID(ctx context.Context, messageID string) (*domain.DeliveryRecord, error)
	ApplyTrackingEvent(ctx context.Context, event domain.TrackingEvent) (bool, error)
	ListByContact(ctx context.Context, contactID string) ([]domain.DeliveryRecord, error)
	SenderStats(ctx context.Context, campaignID string, since time.Time) ([]SenderStats, error)
	FailStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) (int64, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

// Claim inserts a claimed record for (campaign, contact, step). The partial
// unique index over non-failed records makes the insert the at-most-once
// guard: it reports false when another attempt already holds or sent the
// step, and true for a fresh claim, including one that supersedes failures.
func (r *GormDeliveryRepo) Claim(ctx context.Context, record *domain.DeliveryRecord) (bool, error) {
	if record == nil {
		return false, fmt.Errorf("%w: delivery record is required", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO delivery_records
		 (id, campaign_id, contact_id, step_number, sender_email, status, claimed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		record.ID, record.CampaignID, record.ContactID, record.StepNumber, record.SenderEmail,
		domain.DeliveryClaimed, record.ClaimedAt, record.ClaimedAt, record.ClaimedAt,
	)
	if result.Error != nil {
		if isUniqueViolationError(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	record.Status = domain.DeliveryClaimed
	return true, nil
}

func (r *GormDeliveryRepo) MarkSent(ctx context.Context, id string, sentAt time.Time, messageID string) error {
	updates := map[string]any{
		"status":     domain.DeliverySent,
		"sent_at":    sentAt,
		"updated_at": sentAt,
	}
	if messageID != "" {
		updates["message_id"] = messageID
	}

	return r.transitionFromClaimed(ctx, id, updates)
}

func (r *GormDeliveryRepo) MarkFailed(ctx context.Context, id string, kind domain.FailureKind, reason string) error {
	return r.transitionFromClaimed(ctx, id, map[string]any{
		"status":         domain.DeliveryFailed,
		"failure_kind":   kind,
		"failure_reason": reason,
		"updated_at":     time.Now().UTC(),
	})
}

// transitionFromClaimed only touches records still in the claimed state, so
// a sent or failed record is never rewritten.
func (r *GormDeliveryRepo) transitionFromClaimed(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryClaimed).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.DeliveryRecord, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).First(&model, "message_id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

// ApplyTrackingEvent stamps the first occurrence of an open, click or bounce
// on a sent record. Repeated events leave the original timestamp in place and
// report false. Reply and unsubscribe events carry no ledger column.
func (r *GormDeliveryRepo) ApplyTrackingEvent(ctx context.Context, event domain.TrackingEvent) (bool, error) {
	var column string
	switch event.Type {
	case domain.EventOpen:
		column = "opened_at"
	case domain.EventClick:
		column = "clicked_at"
	case domain.EventBounce:
		column = "bounced_at"
	default:
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("message_id = ? AND status = ? AND "+column+" IS NULL", event.MessageID, domain.DeliverySent).
		Updates(map[string]any{
			column:       event.OccurredAt,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormDeliveryRepo) ListByContact(ctx context.Context, contactID string) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Order("step_number ASC, claimed_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}
	return records, nil
}

// SenderStats counts sent, bounced, engaged and rejected records per sender
// for records claimed since the given time.
func (r *GormDeliveryRepo) SenderStats(ctx context.Context, campaignID string, since time.Time) ([]SenderStats, error) {
	var stats []SenderStats
	err := r.db.WithContext(ctx).Raw(
		`SELECT sender_email,
		        COUNT(*) FILTER (WHERE status = 'sent') AS sent,
		        COUNT(*) FILTER (WHERE status = 'sent' AND bounced_at IS NOT NULL) AS bounced,
		        COUNT(*) FILTER (WHERE status = 'sent' AND (opened_at IS NOT NULL OR clicked_at IS NOT NULL)) AS opened,
		        COUNT(*) FILTER (WHERE status = 'sent' AND clicked_at IS NOT NULL) AS clicked,
		        COUNT(*) FILTER (WHERE status = 'failed' AND failure_kind = 'permanent') AS rejected
		 FROM delivery_records
		 WHERE campaign_id = ? AND claimed_at >= ?
		 GROUP BY sender_email`,
		campaignID, since,
	).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// FailStaleClaims marks claims older than claimedBefore as abandoned so the
// contact becomes due again. Only used when a process died mid-dispatch.
func (r *GormDeliveryRepo) FailStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}

	result := r.db.WithContext(ctx).Exec(
		`UPDATE delivery_records
		 SET status = 'failed', failure_kind = ?, failure_reason = ?, updated_at = NOW()
		 WHERE id IN (
		   SELECT id FROM delivery_records
		   WHERE status = 'claimed' AND claimed_at < ?
		   ORDER BY claimed_at ASC
		   LIMIT ?
		   FOR UPDATE SKIP LOCKED
		 ) AND status = 'claimed'`,
		domain.FailureAbandoned, "claim abandoned before completion", claimedBefore, limit,
	)
	return result.RowsAffected, result.Error
}
