// Package dbtest opens throwaway SQLite databases carrying the ingestion
// schema for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/zatekoja/waitingtimes/internal/infrastructure/clients/sqldb"
	"github.com/zatekoja/waitingtimes/schema"
	_ "modernc.org/sqlite"
)

// Open creates a file-backed SQLite database under t.TempDir with the
// schema applied. The database is closed when the test ends.
func Open(t testing.TB) *sqldb.Client {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ingest.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.ExecContext(context.Background(), schema.SQLite); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return sqldb.NewFromDB(db, sqldb.DialectSQLite)
}

// Count returns the number of rows in table
func Count(t testing.TB, client *sqldb.Client, table string) int {
	t.Helper()

	var n int
	if err := client.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}
