package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillUpdatedAt = "2026-09-14_backfill_annotation_updated_at"
	migrationClampOpacity      = "2026-09-21_clamp_annotation_opacity"
)

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
		{name: migrationBackfillUpdatedAt, apply: backfillAnnotationUpdatedAt},
		{name: migrationClampOpacity, apply: clampAnnotationOpacity},
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

// Rows written before updated_at_s existed carry zero; treat them as last
// modified when they were created.
func backfillAnnotationUpdatedAt(db *gorm.DB) error {
	return db.Model(&annotations.Record{}).
		Where("updated_at_s = 0").
		Update("updated_at_s", gorm.Expr("created_at_s")).Error
}

func clampAnnotationOpacity(db *gorm.DB) error {
	if err := db.Model(&annotations.Record{}).
		Where("opacity > ?", 1).
		Update("opacity", 1).Error; err != nil {
		return err
	}
	return db.Model(&annotations.Record{}).
		Where("opacity < ?", 0).
		Update("opacity", 0).Error
}
