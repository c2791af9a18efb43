package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"gorm.io/gorm"
)

func createSenderIdentitiesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_sender_identities",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SenderModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE sender_identities DROP CONSTRAINT IF EXISTS chk_sender_identities_quota`,
				`ALTER TABLE sender_identities ADD CONSTRAINT chk_sender_identities_quota CHECK (daily_limit >= 0 AND sent_today >= 0)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SenderModel{})
		},
	}
}
