package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestLedger opens a migrated ledger pool pair in t.TempDir() and
// registers cleanup. Tests that don't need the read/write split can use
// writeDB for everything.
func OpenTestLedger(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	writeDB, readDB, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("open test ledger: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	return writeDB, readDB
}

// OpenTestTarget opens an empty SQLite target database in t.TempDir().
func OpenTestTarget(t *testing.T) *Target {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "app.sqlite"), "write", 0)
	if err != nil {
		t.Fatalf("open test target: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return &Target{DB: db, Dialect: Dialect{Driver: DriverSQLite}}
}
