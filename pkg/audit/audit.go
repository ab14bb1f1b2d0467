// Package audit persists one record per access decision so operators can
// reconstruct what was asked and what the decision service answered.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Writer appends and reads decision audit records. With Redact set,
// resource properties and request context are replaced by salted hashes
// before the record leaves the process.
type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

type Record struct {
	DecisionID   string
	Integration  string
	Action       string
	ResourceType string
	Allowed      bool
	Reason       string
	InputRaw     json.RawMessage
	CreatedAt    time.Time
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if w.Redact {
		rec.InputRaw = redactInput(rec.InputRaw, w.HashSalt)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO audit_records
		(decision_id, integration, action, resource_type, allowed, reason, input_raw, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.DecisionID, rec.Integration, rec.Action, rec.ResourceType, rec.Allowed, rec.Reason, rec.InputRaw, rec.CreatedAt)
	return err
}

func (w *Writer) Get(ctx context.Context, decisionID, integration string) (Record, error) {
	var rec Record
	if integration != "" {
		row := w.DB.QueryRow(ctx, `
			SELECT decision_id, integration, action, resource_type, allowed, reason, input_raw, created_at
			FROM audit_records WHERE integration=$1 AND decision_id=$2
		`, integration, decisionID)
		err := row.Scan(&rec.DecisionID, &rec.Integration, &rec.Action, &rec.ResourceType, &rec.Allowed, &rec.Reason, &rec.InputRaw, &rec.CreatedAt)
		return rec, err
	}
	row := w.DB.QueryRow(ctx, `
		SELECT decision_id, integration, action, resource_type, allowed, reason, input_raw, created_at
		FROM audit_records WHERE decision_id=$1
	`, decisionID)
	err := row.Scan(&rec.DecisionID, &rec.Integration, &rec.Action, &rec.ResourceType, &rec.Allowed, &rec.Reason, &rec.InputRaw, &rec.CreatedAt)
	return rec, err
}
