package database

import (
	"context"
	"os"
	"testing"
	"time"
)

// testDSNEnv names the environment variable holding the test database DSN.
// Tests that need a live database skip when it is unset.
const testDSNEnv = "RACEFORM_TEST_DATABASE_URL"

// SetupTestDB connects to the test database and bootstraps the schema,
// skipping the calling test when no test database is configured
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping database test", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := NewDBFromDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to create test database connection: %v", err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		t.Fatalf("failed to bootstrap test schema: %v", err)
	}

	return db
}

// TeardownTestDB closes the database connection cleanly
func TeardownTestDB(t *testing.T, db *DB) {
	t.Helper()
	db.Close()
}
