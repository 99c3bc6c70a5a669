package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("PERCOLATOR_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PERCOLATOR_TEST_DATABASE_URL is not set")
	}
	return dsn
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := testDatabaseURL(t)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	logger := zerolog.Nop()

	first, err := ApplyMigrations(ctx, db, migrationsDir, logger)
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if first == 0 {
		t.Fatal("expected migrations to be applied on an empty schema")
	}

	again, err := ApplyMigrations(ctx, db, migrationsDir, logger)
	if err != nil {
		t.Fatalf("apply up migrations (idempotent pass): %v", err)
	}
	if again != 0 {
		t.Fatalf("expected no pending migrations, applied %d", again)
	}

	rolled, err := RollbackMigrations(ctx, db, migrationsDir, 0, logger)
	if err != nil {
		t.Fatalf("roll back migrations: %v", err)
	}
	if rolled != first {
		t.Fatalf("rolled back %d migrations, want %d", rolled, first)
	}

	if _, err := ApplyMigrations(ctx, db, migrationsDir, logger); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}
