package repo

import (
	"path/filepath"
	"testing"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

func TestOpenSQLite_CreatesFileAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// Every pipeline table must exist after migration.
	for _, table := range []string{"conversations", "messages", "queue_items", "idempotency"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q after migrate", table)
		}
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does", "not", "exist", "x.db")
	if _, err := OpenSQLite(path); err == nil {
		t.Fatalf("expected error for missing parent directory")
	}
}

func TestAutoMigrate_Reentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remigrate.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	// Sanity: writes still work after a re-migrate.
	if err := db.Create(&domain.Conversation{ID: "c1", UserID: "u1", Title: "t"}).Error; err != nil {
		t.Fatalf("create after migrate: %v", err)
	}
}
