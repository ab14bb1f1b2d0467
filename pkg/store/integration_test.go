//go:build integration

package store

import (
	"context"
	"encoding/json"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/prompted365/golf/pkg/models"
)

// TestStoresWithRealPostgres exercises the schema and policy stores end
// to end against a real database.
// Run with: go test -tags=integration -timeout 120s ./pkg/store/...
func TestStoresWithRealPostgres(t *testing.T) {
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

	ddl := []string{
		`CREATE TABLE integration_schemas (
			integration TEXT PRIMARY KEY,
			definition JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE registered_policies (
			policy_id TEXT PRIMARY KEY,
			integration TEXT NOT NULL,
			statement TEXT NOT NULL,
			package TEXT NOT NULL,
			content TEXT NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}

	schemas := &SchemaStore{DB: pool}
	original := &models.IntegrationSchema{
		Integration: "gmail",
		Resources: map[string]models.ResourceSchema{
			"EMAILS": {"tags": {PermissionField: "tags", DataType: models.TypeTags}},
		},
		HelperMappings: map[string]string{"TAGGED": "tags"},
	}
	if err := schemas.Save(ctx, original); err != nil {
		t.Fatalf("save schema: %v", err)
	}
	// Upsert replaces in place.
	original.HelperMappings["NAMED"] = "name"
	if err := schemas.Save(ctx, original); err != nil {
		t.Fatalf("resave schema: %v", err)
	}
	loaded, err := schemas.Load(ctx, "gmail")
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	if loaded.HelperMappings["NAMED"] != "name" {
		t.Fatalf("upsert lost data: %#v", loaded.HelperMappings)
	}
	all, err := schemas.LoadAll(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("load all: n=%d err=%v", len(all), err)
	}

	policies := &PolicyStore{DB: pool}
	p := RegisteredPolicy{
		ID:          "p-1",
		Integration: "gmail",
		Statement:   "GIVE READ ACCESS TO EMAILS TAGGED = WORK",
		Package:     "golf.permissions.emails",
		Content:     "package golf.permissions.emails\n",
		Document:    json.RawMessage(`{"input":{"action":"READ","resource":{"type":"EMAILS","conditions":[]}}}`),
		CreatedAt:   time.Now().UTC(),
	}
	if err := policies.Save(ctx, p); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	got, err := policies.Get(ctx, "p-1")
	if err != nil || got.Package != p.Package {
		t.Fatalf("get policy: %#v err=%v", got, err)
	}
	list, err := policies.ListByIntegration(ctx, "gmail")
	if err != nil || len(list) != 1 {
		t.Fatalf("list policies: n=%d err=%v", len(list), err)
	}
	if err := policies.Delete(ctx, "p-1"); err != nil {
		t.Fatalf("delete policy: %v", err)
	}
	if _, err := policies.Get(ctx, "p-1"); err == nil {
		t.Fatal("policy survived deletion")
	}
}
