package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"gorm.io/gorm"
)

func createOrganizationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_organizations",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OrganizationModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_organizations_domain ON organizations (domain)`,
				`CREATE INDEX IF NOT EXISTS idx_organizations_batch_id ON organizations (batch_id) WHERE batch_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_organizations_status ON organizations (status)`,
				`CREATE INDEX IF NOT EXISTS idx_organizations_retry ON organizations (next_retry_at) WHERE next_retry_at IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OrganizationModel{})
		},
	}
}
