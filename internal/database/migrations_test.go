package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/ephemera-notes/ephemera/internal/notes"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ephemera_migrations_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&notes.Note{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestApplyMigrationsBackfillsExpirations(t *testing.T) {
	db := newMigrationTestDB(t)

	legacy := notes.Note{
		NoteID:           "legacy-note",
		UpdatedAtSeconds: 1700000000,
		CreatedAtSeconds: 1700000000,
		ExpiresAtSeconds: 0,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed legacy note: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var migrated notes.Note
	if err := db.Where("note_id = ?", "legacy-note").Take(&migrated).Error; err != nil {
		t.Fatalf("failed to load migrated note: %v", err)
	}
	expected := int64(1700000000 + 30*24*60*60)
	if migrated.ExpiresAtSeconds != expected {
		t.Fatalf("expected backfilled expiry %d, got %d", expected, migrated.ExpiresAtSeconds)
	}
}

func TestApplyMigrationsRunsOnce(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A note written without an expiration after the migration ran must not
	// be touched by a second pass.
	late := notes.Note{
		NoteID:           "late-note",
		UpdatedAtSeconds: 1710000000,
		ExpiresAtSeconds: 0,
	}
	if err := db.Create(&late).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored notes.Note
	if err := db.Where("note_id = ?", "late-note").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load note: %v", err)
	}
	if stored.ExpiresAtSeconds != 0 {
		t.Fatalf("applied migration must not run twice, got %d", stored.ExpiresAtSeconds)
	}

	var records []migrationRecord
	if err := db.Find(&records).Error; err != nil {
		t.Fatalf("failed to load migration ledger: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(records))
	}
}
