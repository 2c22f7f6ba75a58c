package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Schema is the hub_audit table DDL. Applied at startup; every
// statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS hub_audit (
	id        BIGSERIAL PRIMARY KEY,
	ts        TIMESTAMPTZ NOT NULL,
	operation TEXT NOT NULL,
	payload   JSONB NOT NULL DEFAULT '{}',
	status    INTEGER NOT NULL,
	message   TEXT NOT NULL DEFAULT '',
	attempts  INTEGER NOT NULL DEFAULT 0,
	success   BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS hub_audit_operation_idx ON hub_audit (operation, ts);
`

// PostgresStore persists the Hub call trail in PostgreSQL, so the
// audit survives restarts when a database is configured.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies the hub_audit DDL.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply hub_audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, call HubCall) error {
	payload, err := marshalPayload(call.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hub_audit (ts, operation, payload, status, message, attempts, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		call.Timestamp, call.Operation, payload, call.Status, call.Message, call.Attempts, call.Success,
	)
	if err != nil {
		return fmt.Errorf("append hub audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByOperation(ctx context.Context, operation string) ([]HubCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, operation, payload, status, message, attempts, success
		FROM hub_audit WHERE operation = $1 ORDER BY ts`,
		operation,
	)
	if err != nil {
		return nil, fmt.Errorf("list hub audit: %w", err)
	}
	defer rows.Close()

	var out []HubCall
	for rows.Next() {
		var call HubCall
		var payload []byte
		if err := rows.Scan(&call.Timestamp, &call.Operation, &payload,
			&call.Status, &call.Message, &call.Attempts, &call.Success); err != nil {
			return nil, fmt.Errorf("scan hub audit: %w", err)
		}
		if err := json.Unmarshal(payload, &call.Payload); err != nil {
			return nil, fmt.Errorf("decode hub audit payload: %w", err)
		}
		out = append(out, call)
	}
	return out, rows.Err()
}

func marshalPayload(payload map[string]string) ([]byte, error) {
	if payload == nil {
		payload = map[string]string{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode hub audit payload: %w", err)
	}
	return raw, nil
}
