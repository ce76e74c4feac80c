package migrations

import (
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_accounts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.Account{}, &domain.CreditTransaction{}, &domain.SendConfig{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&domain.SendConfig{}, &domain.CreditTransaction{}, &domain.Account{},
				)
			},
		},
		{
			ID: "000002_create_batches",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.Batch{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Batch{})
			},
		},
		{
			ID: "000003_create_certificates",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&domain.Certificate{}, &domain.FailedRecord{}, &domain.InvalidRecipient{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&domain.InvalidRecipient{}, &domain.FailedRecord{}, &domain.Certificate{},
				)
			},
		},
		{
			ID: "000004_create_suppression_entries",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.SuppressionEntry{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.SuppressionEntry{})
			},
		},
		{
			ID: "000005_create_templates",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.Template{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Template{})
			},
		},
		{
			ID: "000006_create_scheduled_batches",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.ScheduledBatch{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.ScheduledBatch{})
			},
		},
	})

	return m.Migrate()
}
