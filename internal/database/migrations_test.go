package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsRepairsAnnotationRows(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&annotations.Record{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := annotations.Record{
		AnnotationID:     "annotation-1",
		UserID:           "user-1",
		DocumentKey:      "doc-a",
		Kind:             string(annotations.KindHighlight),
		Opacity:          1.7,
		CreatedAtSeconds: 1700000000,
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy annotation: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored annotations.Record
	if err := database.Where("annotation_id = ?", legacy.AnnotationID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload annotation: %v", err)
	}
	if stored.UpdatedAtSeconds != legacy.CreatedAtSeconds {
		testContext.Fatalf("expected updated_at_s to be backfilled, got %d", stored.UpdatedAtSeconds)
	}
	if stored.Opacity != 1 {
		testContext.Fatalf("expected opacity to be clamped, got %v", stored.Opacity)
	}

	for _, name := range []string{migrationBackfillUpdatedAt, migrationClampOpacity} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s to be created: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set for %s", name)
		}
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "once.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&annotations.Record{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("first run failed: %v", err)
	}

	late := annotations.Record{
		AnnotationID:     "annotation-late",
		UserID:           "user-1",
		DocumentKey:      "doc-a",
		Kind:             string(annotations.KindInk),
		Opacity:          -1,
		CreatedAtSeconds: 10,
	}
	if err := database.Create(&late).Error; err != nil {
		testContext.Fatalf("failed to insert annotation: %v", err)
	}
	if err := applyMigrations(database, nil); err != nil {
		testContext.Fatalf("second run failed: %v", err)
	}

	var stored annotations.Record
	if err := database.Where("annotation_id = ?", late.AnnotationID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload annotation: %v", err)
	}
	if stored.Opacity != -1 || stored.UpdatedAtSeconds != 0 {
		testContext.Fatalf("expected applied migrations to be skipped, got %+v", stored)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Options{Driver: "oracle"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	database, err := Open(Options{Driver: "sqlite", Path: filepath.Join(testContext.TempDir(), "folio.db")}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	for _, table := range []string{"annotations", "reading_progress", "reading_sessions", "user_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}
