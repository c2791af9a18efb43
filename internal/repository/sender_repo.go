package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"gorm.io/gorm"
)

type SenderRepository interface {
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.SenderIdentity, error)
	Reserve(ctx context.Context, campaignID string, email string) (bool, error)
	Release(ctx context.Context, campaignID string, email string) error
	ResetAll(ctx context.Context, campaignID string) (int64, error)
	ResetAllCampaigns(ctx context.Context) (int64, error)
	UpdateHealthScore(ctx context.Context, campaignID string, email string, score float64, at time.Time) error
}

type GormSenderRepo struct {
	db *gorm.DB
}

func NewGormSenderRepo(db *gorm.DB) *GormSenderRepo {
	return &GormSenderRepo{db: db}
}

func (r *GormSenderRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.SenderIdentity, error) {
	var models []SenderModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("email ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	senders := make([]domain.SenderIdentity, 0, len(models))
	for i := range models {
		senders = append(senders, senderModelToDomain(&models[i]))
	}
	return senders, nil
}

// Reserve takes one warm-up slot with a single conditional increment. It
// succeeds only while sent_today is below daily_limit, so concurrent callers
// can never push a sender past its limit.
func (r *GormSenderRepo) Reserve(ctx context.Context, campaignID string, email string) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE sender_identities SET sent_today = sent_today + 1, updated_at = NOW()
		 WHERE campaign_id = ? AND lower(email) = lower(?) AND is_active AND is_selected AND sent_today < daily_limit`,
		campaignID, email,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Release returns a slot taken by Reserve. The counter never drops below zero.
func (r *GormSenderRepo) Release(ctx context.Context, campaignID string, email string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE sender_identities SET sent_today = sent_today - 1, updated_at = NOW()
		 WHERE campaign_id = ? AND lower(email) = lower(?) AND sent_today > 0`,
		campaignID, email,
	).Error
}

func (r *GormSenderRepo) ResetAll(ctx context.Context, campaignID string) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE sender_identities SET sent_today = 0, updated_at = NOW() WHERE campaign_id = ? AND sent_today <> 0`,
		campaignID,
	)
	return result.RowsAffected, result.Error
}

func (r *GormSenderRepo) ResetAllCampaigns(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE sender_identities SET sent_today = 0, updated_at = NOW() WHERE sent_today <> 0`,
	)
	return result.RowsAffected, result.Error
}

func (r *GormSenderRepo) UpdateHealthScore(ctx context.Context, campaignID string, email string, score float64, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&SenderModel{}).
		Where("campaign_id = ? AND lower(email) = lower(?)", campaignID, email).
		Updates(map[string]any{
			"health_score":      score,
			"health_updated_at": at,
			"updated_at":        at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
