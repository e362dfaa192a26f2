// Package dbtest gives repository tests an isolated, migrated PostgreSQL
// schema. Tests using it are skipped unless DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/habms/habms/internal/platform/db"
	"github.com/habms/habms/migrations"
)

// EnvURL names the variable holding the test database connection string.
const EnvURL = "DATABASE_URL"

// Open creates a fresh schema, applies every migration to it and returns a
// pool whose connections resolve unqualified names in that schema. The schema
// is dropped when the test finishes.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set; skipping PostgreSQL test", EnvURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := db.NewPool(ctx, url, 2, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := db.NewMigrator(admin, migrations.FS).Up(ctx, schema); err != nil {
		admin.Close()
		t.Fatalf("migrate schema %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		admin.Close()
		t.Fatalf("parse %s: %v", EnvURL, err)
	}
	cfg.MaxConns = 16
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		admin.Close()
		t.Fatalf("open pool for %s: %v", schema, err)
	}

	t.Cleanup(func() {
		pool.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := admin.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})
	return pool
}
