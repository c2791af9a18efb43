package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addSendWindows() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_send_windows",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS window_start_hour integer NOT NULL DEFAULT 0`,
				`ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS window_end_hour integer NOT NULL DEFAULT 0`,
				`ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS skip_weekends boolean NOT NULL DEFAULT false`,
				`ALTER TABLE campaigns DROP CONSTRAINT IF EXISTS chk_campaigns_send_window`,
				`ALTER TABLE campaigns ADD CONSTRAINT chk_campaigns_send_window CHECK (
					(window_start_hour = 0 AND window_end_hour = 0)
					OR (window_start_hour >= 0 AND window_end_hour <= 24 AND window_start_hour < window_end_hour))`,
				`ALTER TABLE contacts ADD COLUMN IF NOT EXISTS timezone varchar(64)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE contacts DROP COLUMN IF EXISTS timezone`,
				`ALTER TABLE campaigns DROP CONSTRAINT IF EXISTS chk_campaigns_send_window`,
				`ALTER TABLE campaigns DROP COLUMN IF EXISTS skip_weekends`,
				`ALTER TABLE campaigns DROP COLUMN IF EXISTS window_end_hour`,
				`ALTER TABLE campaigns DROP COLUMN IF EXISTS window_start_hour`,
			})
		},
	}
}
