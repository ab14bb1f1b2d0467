package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prompted365/golf/pkg/models"
)

// pgDB is the slice of pgxpool.Pool the stores need.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SchemaStore persists integration schemas so a restarted gateway can
// rebuild its registry without waiting for the schema feed.
type SchemaStore struct {
	DB pgDB
}

func (s *SchemaStore) Save(ctx context.Context, schema *models.IntegrationSchema) error {
	definition, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema %q: %w", schema.Integration, err)
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO integration_schemas (integration, definition, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (integration) DO UPDATE SET definition=$2, updated_at=$3
	`, schema.Integration, definition, time.Now().UTC())
	return err
}

func (s *SchemaStore) Load(ctx context.Context, integration string) (*models.IntegrationSchema, error) {
	var definition []byte
	row := s.DB.QueryRow(ctx, `SELECT definition FROM integration_schemas WHERE integration=$1`, integration)
	if err := row.Scan(&definition); err != nil {
		return nil, err
	}
	var schema models.IntegrationSchema
	if err := json.Unmarshal(definition, &schema); err != nil {
		return nil, fmt.Errorf("decode schema %q: %w", integration, err)
	}
	return &schema, nil
}

// LoadAll returns every persisted schema in integration order.
func (s *SchemaStore) LoadAll(ctx context.Context) ([]*models.IntegrationSchema, error) {
	rows, err := s.DB.Query(ctx, `SELECT definition FROM integration_schemas ORDER BY integration`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.IntegrationSchema
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var schema models.IntegrationSchema
		if err := json.Unmarshal(definition, &schema); err != nil {
			return nil, fmt.Errorf("decode persisted schema: %w", err)
		}
		out = append(out, &schema)
	}
	return out, rows.Err()
}

func (s *SchemaStore) Delete(ctx context.Context, integration string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM integration_schemas WHERE integration=$1`, integration)
	return err
}
