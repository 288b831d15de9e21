package database

import (
	"errors"
	"time"

	"github.com/ephemera-notes/ephemera/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillNoteExpirations = "2026-08-12_backfill_note_expirations"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillNoteExpirations, apply: backfillNoteExpirations},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillNoteExpirations gives rows written before expiration support a
// 30 day deadline from their last update.
func backfillNoteExpirations(db *gorm.DB) error {
	deadline := 30 * 24 * time.Hour
	return db.Model(&notes.Note{}).
		Where("expires_at_s = 0").
		Update("expires_at_s", gorm.Expr("updated_at_s + ?", int64(deadline.Seconds()))).Error
}
