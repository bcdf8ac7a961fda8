//go:build integration

package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
)

// SetupTestDB connects to the test database, applies the goose migrations and
// truncates every dispatch table. It skips the test if TEST_DATABASE_URL is
// not set. Integration packages share one database, so run them with -p 1.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect to test DB: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping test DB: %v", err)
	}

	if err := postgres.Migrate(ctx, pool, migrationsDir(), "up"); err != nil {
		pool.Close()
		t.Fatalf("migrate test DB: %v", err)
	}
	if _, err := pool.Exec(ctx,
		`TRUNCATE queue_entries, orders, agents, processed_operations`); err != nil {
		pool.Close()
		t.Fatalf("truncate test DB: %v", err)
	}

	t.Cleanup(func() { pool.Close() })
	return pool
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "adapter", "postgres", "migrations")
}
