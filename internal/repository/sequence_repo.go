package repository

import (
	"context"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"gorm.io/gorm"
)

// SequenceRepository reads campaign step definitions and the campaign's
// send window. Both are written by campaign configuration, never by the engine.
type SequenceRepository interface {
	GetSequence(ctx context.Context, campaignID string) (domain.Sequence, error)
}

type GormSequenceRepo struct {
	db *gorm.DB
}

func NewGormSequenceRepo(db *gorm.DB) *GormSequenceRepo {
	return &GormSequenceRepo{db: db}
}

func (r *GormSequenceRepo) GetSequence(ctx context.Context, campaignID string) (domain.Sequence, error) {
	var models []SequenceStepModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("step_number ASC").
		Find(&models).Error
	if err != nil {
		return domain.Sequence{}, err
	}

	var campaign CampaignModel
	err = r.db.WithContext(ctx).
		Select("id", "window_start_hour", "window_end_hour", "skip_weekends").
		Where("id = ?", campaignID).
		Limit(1).
		Find(&campaign).Error
	if err != nil {
		return domain.Sequence{}, err
	}

	steps := make([]domain.SequenceStep, 0, len(models))
	for i := range models {
		steps = append(steps, stepModelToDomain(&models[i]))
	}
	seq := domain.NewSequence(campaignID, steps)
	seq.Window = campaign.sendWindow()
	return seq, nil
}
