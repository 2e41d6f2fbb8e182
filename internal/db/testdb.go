package db

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// TestPostgresEnv holds a Postgres DSN. When it is set, NewTestDB runs each
// test in a throwaway schema on that server instead of in-memory SQLite.
const TestPostgresEnv = "BOXANIZER_TEST_POSTGRES"

// NewTestDB returns an empty, migrated database that is dropped when t ends.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	var db *DB
	if dsn := os.Getenv(TestPostgresEnv); dsn != "" {
		db = newPostgresTestDB(t, dsn)
	} else {
		var err error
		if db, err = Open(":memory:"); err != nil {
			t.Fatalf("opening test database: %v", err)
		}
		t.Cleanup(func() { db.Close() })
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("migrating %s test database: %v", db.Dialect, err)
	}
	return db
}

func newPostgresTestDB(t testing.TB, dsn string) *DB {
	t.Helper()
	ctx := context.Background()
	schema := "boxanizer_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to %s: %v", TestPostgresEnv, err)
	}
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA `+schema); err != nil {
		admin.Close()
		t.Fatalf("creating schema %s: %v", schema, err)
	}

	db, err := OpenPostgres(ctx, withSearchPath(dsn, schema))
	if err != nil {
		admin.Close()
		t.Fatalf("opening schema %s: %v", schema, err)
	}

	t.Cleanup(func() {
		db.Close()
		if _, err := admin.ExecContext(context.Background(), `DROP SCHEMA `+schema+` CASCADE`); err != nil {
			t.Logf("dropping schema %s: %v", schema, err)
		}
		admin.Close()
	})
	return db
}

// withSearchPath points every connection opened from dsn at schema. dsn is
// either a URL or a keyword/value string.
func withSearchPath(dsn, schema string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " search_path=" + schema
}
