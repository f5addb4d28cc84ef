package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nexus-im/dm/store/sqldb"
)

// TestDatabaseURLEnv names the Postgres DSN used by the integration suite.
const TestDatabaseURLEnv = "TEST_DATABASE_URL"

// DB is a migrated database plus the driver it was opened with.
type DB struct {
	*sql.DB
	Driver string
}

// OpenSQLite returns a migrated SQLite database in a per-test directory.
func OpenSQLite(t testing.TB) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.DriverSQLite, filepath.Join(t.TempDir(), "nexus.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close sqlite: %v", err)
		}
	})

	if _, err := sqldb.Migrate(ctx, db, sqldb.DriverSQLite); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return &DB{DB: db, Driver: sqldb.DriverSQLite}
}

// OpenPostgres returns a migrated, emptied Postgres database, or skips the
// test when TEST_DATABASE_URL is unset.
func OpenPostgres(t testing.TB) *DB {
	t.Helper()

	dsn := os.Getenv(TestDatabaseURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", TestDatabaseURLEnv)
	}

	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if _, err := sqldb.Migrate(ctx, db, sqldb.DriverPostgres); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE TABLE messages, conversations, users CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return &DB{DB: db, Driver: sqldb.DriverPostgres}
}

// SeedUser inserts a user row directly and returns its id. The password hash
// is a placeholder; use the user store when credentials matter.
func SeedUser(t testing.TB, db *sql.DB, name string) string {
	t.Helper()

	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, name, strings.ToLower(name)+"-"+id[:8]+"@example.com", "x", sqldb.Now())
	if err != nil {
		t.Fatalf("seed user %q: %v", name, err)
	}
	return id
}
