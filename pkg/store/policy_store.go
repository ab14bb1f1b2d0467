package store

import (
	"context"
	"encoding/json"
	"time"
)

// RegisteredPolicy is one statement the gateway registered with the
// decision service, kept so policies survive restarts and can be
// re-uploaded or revoked later.
type RegisteredPolicy struct {
	ID          string
	Integration string
	Statement   string
	Package     string
	Content     string
	Document    json.RawMessage
	CreatedAt   time.Time
}

// PolicyStore persists registered policies.
type PolicyStore struct {
	DB pgDB
}

func (s *PolicyStore) Save(ctx context.Context, p RegisteredPolicy) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO registered_policies
		(policy_id, integration, statement, package, content, document, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.Integration, p.Statement, p.Package, p.Content, p.Document, p.CreatedAt)
	return err
}

func (s *PolicyStore) Get(ctx context.Context, policyID string) (RegisteredPolicy, error) {
	var p RegisteredPolicy
	row := s.DB.QueryRow(ctx, `
		SELECT policy_id, integration, statement, package, content, document, created_at
		FROM registered_policies WHERE policy_id=$1
	`, policyID)
	err := row.Scan(&p.ID, &p.Integration, &p.Statement, &p.Package, &p.Content, &p.Document, &p.CreatedAt)
	return p, err
}

// ListByIntegration returns an integration's policies, newest first.
func (s *PolicyStore) ListByIntegration(ctx context.Context, integration string) ([]RegisteredPolicy, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT policy_id, integration, statement, package, content, document, created_at
		FROM registered_policies WHERE integration=$1 ORDER BY created_at DESC
	`, integration)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RegisteredPolicy
	for rows.Next() {
		var p RegisteredPolicy
		if err := rows.Scan(&p.ID, &p.Integration, &p.Statement, &p.Package, &p.Content, &p.Document, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PolicyStore) Delete(ctx context.Context, policyID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM registered_policies WHERE policy_id=$1`, policyID)
	return err
}
