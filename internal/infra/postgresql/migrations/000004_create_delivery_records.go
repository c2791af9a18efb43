package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"gorm.io/gorm"
)

// The partial unique index is the dedup guard: at most one claimed or sent
// record per (campaign, contact, step), while failed records stay in the
// ledger and do not block a later claim.
func createDeliveryRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_delivery_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryRecordModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS ux_delivery_records_active_claim ON delivery_records (campaign_id, contact_id, step_number) WHERE status <> 'failed'`,
				`CREATE UNIQUE INDEX IF NOT EXISTS ux_delivery_records_message_id ON delivery_records (message_id) WHERE message_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_records_contact ON delivery_records (contact_id, step_number)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_records_stats ON delivery_records (campaign_id, claimed_at)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_records_stale_claims ON delivery_records (claimed_at) WHERE status = 'claimed'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryRecordModel{})
		},
	}
}
