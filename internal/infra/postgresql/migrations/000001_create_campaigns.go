package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"gorm.io/gorm"
)

func createCampaignsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_campaigns",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignModel{}, &repository.SequenceStepModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status)`,
				`ALTER TABLE sequence_steps DROP CONSTRAINT IF EXISTS chk_sequence_steps_number`,
				`ALTER TABLE sequence_steps ADD CONSTRAINT chk_sequence_steps_number CHECK (step_number >= 1)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SequenceStepModel{}, &repository.CampaignModel{})
		},
	}
}
