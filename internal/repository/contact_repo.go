package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"gorm.io/gorm"
)

type ContactRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Contact, error)
	ListActive(ctx context.Context, campaignID string) ([]domain.Contact, error)
	Advance(ctx context.Context, id string, fromStep int, contactedAt time.Time, complete bool) (bool, error)
	SetTerminal(ctx context.Context, id string, status domain.ContactStatus) (bool, error)
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

func (r *GormContactRepo) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	var model ContactModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contactModelToDomain(&model), nil
}

// ListActive returns active contacts in enrollment order.
func (r *GormContactRepo) ListActive(ctx context.Context, campaignID string) ([]domain.Contact, error) {
	var models []ContactModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, domain.ContactActive).
		Order("enrolled_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	contacts := make([]domain.Contact, 0, len(models))
	for i := range models {
		contacts = append(contacts, *contactModelToDomain(&models[i]))
	}
	return contacts, nil
}

// Advance moves an active contact from fromStep to fromStep+1. The update is
// conditional on the current step so a stale caller can never move the
// cursor twice or backwards. It reports whether the row was updated.
func (r *GormContactRepo) Advance(ctx context.Context, id string, fromStep int, contactedAt time.Time, complete bool) (bool, error) {
	status := domain.ContactActive
	if complete {
		status = domain.ContactCompleted
	}

	result := r.db.WithContext(ctx).
		Model(&ContactModel{}).
		Where("id = ? AND current_step = ? AND status = ?", id, fromStep, domain.ContactActive).
		Updates(map[string]any{
			"current_step":      fromStep + 1,
			"last_contacted_at": contactedAt,
			"status":            status,
			"updated_at":        contactedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetTerminal moves an active contact into a terminal status. Terminal
// contacts are never changed again.
func (r *GormContactRepo) SetTerminal(ctx context.Context, id string, status domain.ContactStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&ContactModel{}).
		Where("id = ? AND status = ?", id, domain.ContactActive).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
