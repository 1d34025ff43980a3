package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := OpenDB(ctx, "sqlite://"+filepath.Join(t.TempDir(), "roundtrip.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	runRoundTrip(ctx, t, db, dialect)
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("INTAKE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("INTAKE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, dialect, err := OpenDB(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	runRoundTrip(ctx, t, db, dialect)
}

func runRoundTrip(ctx context.Context, t *testing.T, db *sql.DB, dialect Dialect) {
	t.Helper()

	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	applied, err := AppliedMigrations(ctx, db)
	if err != nil {
		t.Fatalf("list applied: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be recorded")
	}

	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("re-applying migrations must be a no-op: %v", err)
	}

	reverted, err := RollbackMigrations(ctx, db, dialect, 0)
	if err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if len(reverted) != len(applied) {
		t.Fatalf("expected %d reverted, got %v", len(applied), reverted)
	}

	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}
