package store

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationMarkUnsyncedRowsDirty = "2026-10-01_mark_unsynced_rows_dirty"

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
		{name: migrationMarkUnsyncedRowsDirty, apply: markUnsyncedRowsDirty},
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

// markUnsyncedRowsDirty repairs rows that were never acknowledged by the remote but lost their
// dirty flag; without it they would never be pushed.
func markUnsyncedRowsDirty(db *gorm.DB) error {
	models := []any{&notes.Collection{}, &notes.Note{}, &notes.ChecklistItem{}}
	for _, model := range models {
		err := db.Model(model).
			Where("synced_at IS NULL AND is_dirty = ?", false).
			Update(columnIsDirty, true).Error
		if err != nil {
			return err
		}
	}
	return nil
}
