//go:build integration

package main

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestMigrationsWithRealPostgres applies the repo's migrations against a
// real database and verifies the tables the stores expect exist.
// Run with: go test -tags=integration -timeout 120s ./cmd/migrator/...
func TestMigrationsWithRealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("golf"),
		postgres.WithUsername("golf"),
		postgres.WithPassword("golf"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	var logs []string
	logf := func(format string, args ...any) { logs = append(logs, format) }
	if err := runMigrations(ctx, pool, "../../migrations", nil, nil, logf); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}

	for _, table := range []string{"integration_schemas", "registered_policies", "audit_records"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)`, table,
		).Scan(&exists)
		if err != nil || !exists {
			t.Fatalf("table %s missing: exists=%v err=%v", table, exists, err)
		}
	}

	var applied int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if applied != 3 {
		t.Fatalf("expected 3 applied migrations, got %d", applied)
	}

	// Second run is a no-op.
	if err := runMigrations(ctx, pool, "../../migrations", nil, nil, logf); err != nil {
		t.Fatalf("second runMigrations: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil || applied != 3 {
		t.Fatalf("rerun changed migration count: n=%d err=%v", applied, err)
	}
}
