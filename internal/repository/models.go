package repository

import (
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
)

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID              string                `gorm:"type:uuid;primaryKey"`
	Name            string                `gorm:"type:varchar(255);not null"`
	Status          domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	WindowStartHour int                   `gorm:"not null;default:0"`
	WindowEndHour   int                   `gorm:"not null;default:0"`
	SkipWeekends    bool                  `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// SequenceStepModel is the persistence model for sequence_steps.
type SequenceStepModel struct {
	CampaignID      string            `gorm:"type:uuid;primaryKey"`
	StepNumber      int               `gorm:"primaryKey"`
	TimingKind      domain.TimingKind `gorm:"type:varchar(20);not null"`
	TimingAmount    int               `gorm:"not null;default:0"`
	TimingUnit      domain.TimeUnit   `gorm:"type:varchar(10)"`
	SubjectTemplate string            `gorm:"type:text;not null"`
	BodyTemplate    string            `gorm:"type:text;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (SequenceStepModel) TableName() string {
	return "sequence_steps"
}

// ContactModel is the persistence model for contacts.
type ContactModel struct {
	ID              string               `gorm:"type:uuid;primaryKey"`
	CampaignID      string               `gorm:"type:uuid;not null"`
	Email           string               `gorm:"type:varchar(320);not null"`
	FirstName       string               `gorm:"type:varchar(255)"`
	LastName        string               `gorm:"type:varchar(255)"`
	Company         string               `gorm:"type:varchar(255)"`
	Variables       map[string]string    `gorm:"type:jsonb;serializer:json"`
	Timezone        string               `gorm:"type:varchar(64)"`
	CurrentStep     int                  `gorm:"not null;default:0"`
	Status          domain.ContactStatus `gorm:"type:varchar(20);not null"`
	LastContactedAt *time.Time           `gorm:"type:timestamptz"`
	EnrolledAt      time.Time            `gorm:"type:timestamptz;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ContactModel) TableName() string {
	return "contacts"
}

// SenderModel is the persistence model for sender_identities.
type SenderModel struct {
	CampaignID      string     `gorm:"type:uuid;primaryKey"`
	Email           string     `gorm:"type:varchar(320);primaryKey"`
	DisplayName     string     `gorm:"type:varchar(255)"`
	IsActive        bool       `gorm:"not null;default:true"`
	IsSelected      bool       `gorm:"not null;default:true"`
	DailyLimit      int        `gorm:"not null;default:0"`
	SentToday       int        `gorm:"not null;default:0"`
	HealthScore     float64    `gorm:"not null;default:100"`
	HealthUpdatedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (SenderModel) TableName() string {
	return "sender_identities"
}

// DeliveryRecordModel is the persistence model for the delivery_records ledger.
type DeliveryRecordModel struct {
	ID            string                `gorm:"type:uuid;primaryKey"`
	CampaignID    string                `gorm:"type:uuid;not null"`
	ContactID     string                `gorm:"type:uuid;not null"`
	StepNumber    int                   `gorm:"not null"`
	SenderEmail   string                `gorm:"type:varchar(320);not null"`
	Status        domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	FailureKind   *domain.FailureKind   `gorm:"type:varchar(30)"`
	FailureReason *string               `gorm:"type:text"`
	MessageID     *string               `gorm:"type:varchar(255)"`
	ClaimedAt     time.Time             `gorm:"type:timestamptz;not null"`
	SentAt        *time.Time            `gorm:"type:timestamptz"`
	OpenedAt      *time.Time            `gorm:"type:timestamptz"`
	ClickedAt     *time.Time            `gorm:"type:timestamptz"`
	BouncedAt     *time.Time            `gorm:"type:timestamptz"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (DeliveryRecordModel) TableName() string {
	return "delivery_records"
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:         m.ID,
		Name:       m.Name,
		Status:     m.Status,
		SendWindow: m.sendWindow(),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func (m *CampaignModel) sendWindow() domain.SendWindow {
	return domain.SendWindow{
		StartHour:    m.WindowStartHour,
		EndHour:      m.WindowEndHour,
		SkipWeekends: m.SkipWeekends,
	}
}

func stepModelToDomain(m *SequenceStepModel) domain.SequenceStep {
	return domain.SequenceStep{
		CampaignID: m.CampaignID,
		StepNumber: m.StepNumber,
		Timing: domain.TimingRule{
			Kind:   m.TimingKind,
			Amount: m.TimingAmount,
			Unit:   m.TimingUnit,
		},
		SubjectTemplate: m.SubjectTemplate,
		BodyTemplate:    m.BodyTemplate,
	}
}

func contactModelToDomain(m *ContactModel) *domain.Contact {
	if m == nil {
		return nil
	}

	return &domain.Contact{
		ID:              m.ID,
		CampaignID:      m.CampaignID,
		Email:           m.Email,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		Company:         m.Company,
		Variables:       m.Variables,
		Timezone:        m.Timezone,
		CurrentStep:     m.CurrentStep,
		Status:          m.Status,
		LastContactedAt: m.LastContactedAt,
		EnrolledAt:      m.EnrolledAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func senderModelToDomain(m *SenderModel) domain.SenderIdentity {
	return domain.SenderIdentity{
		CampaignID:      m.CampaignID,
		Email:           m.Email,
		DisplayName:     m.DisplayName,
		IsActive:        m.IsActive,
		IsSelected:      m.IsSelected,
		DailyLimit:      m.DailyLimit,
		SentToday:       m.SentToday,
		HealthScore:     m.HealthScore,
		HealthUpdatedAt: m.HealthUpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryRecordModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		ID:            m.ID,
		CampaignID:    m.CampaignID,
		ContactID:     m.ContactID,
		StepNumber:    m.StepNumber,
		SenderEmail:   m.SenderEmail,
		Status:        m.Status,
		FailureKind:   m.FailureKind,
		FailureReason: m.FailureReason,
		MessageID:     m.MessageID,
		ClaimedAt:     m.ClaimedAt,
		SentAt:        m.SentAt,
		OpenedAt:      m.OpenedAt,
		ClickedAt:     m.ClickedAt,
		BouncedAt:     m.BouncedAt,
	}
}
