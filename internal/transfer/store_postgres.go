package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Schema is the transfers table DDL. Applied at startup; every
// statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS transfers (
	id                        TEXT PRIMARY KEY,
	idempotency_key           TEXT NOT NULL UNIQUE,
	citizen_id                BIGINT NOT NULL,
	citizen_name              TEXT NOT NULL,
	citizen_email             TEXT NOT NULL,
	direction                 TEXT NOT NULL,
	source_operator_id        TEXT NOT NULL,
	source_operator_name      TEXT NOT NULL,
	destination_operator_id   TEXT NOT NULL,
	destination_operator_name TEXT NOT NULL,
	confirm_url               TEXT NOT NULL DEFAULT '',
	document_ids              JSONB NOT NULL DEFAULT '[]',
	document_urls             JSONB NOT NULL DEFAULT '{}',
	status                    TEXT NOT NULL,
	retry_count               INTEGER NOT NULL DEFAULT 0,
	error_message             TEXT NOT NULL DEFAULT '',
	initiated_at              TIMESTAMPTZ NOT NULL,
	confirmed_at              TIMESTAMPTZ,
	unregistered_at           TIMESTAMPTZ,
	completed_at              TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS transfers_citizen_idx ON transfers (citizen_id);
CREATE INDEX IF NOT EXISTS transfers_status_direction_idx ON transfers (status, direction, initiated_at);
`

// PostgresStore persists transfer records in PostgreSQL. The store is
// pure I/O; transition rules live in the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies the transfers DDL.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply transfers schema: %w", err)
	}
	return nil
}

const transferColumns = `
	id, idempotency_key, citizen_id, citizen_name, citizen_email,
	direction, source_operator_id, source_operator_name,
	destination_operator_id, destination_operator_name, confirm_url,
	document_ids, document_urls, status, retry_count, error_message,
	initiated_at, confirmed_at, unregistered_at, completed_at
`

func (s *PostgresStore) Create(ctx context.Context, record *Record) error {
	docIDs, docURLs, err := marshalDocuments(record)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.IdempotencyKey,
		record.CitizenID,
		record.CitizenName,
		record.CitizenEmail,
		string(record.Direction),
		record.SourceOperatorID,
		record.SourceOperatorName,
		record.DestinationOperatorID,
		record.DestinationOperatorName,
		record.ConfirmURL,
		docIDs,
		docURLs,
		string(record.Status),
		record.RetryCount,
		record.ErrorMessage,
		record.InitiatedAt,
		nullTime(record.ConfirmedAt),
		nullTime(record.UnregisteredAt),
		nullTime(record.CompletedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	return scanTransfer(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE idempotency_key = $1`
	return scanTransfer(s.db.QueryRowContext(ctx, query, key))
}

func (s *PostgresStore) Update(ctx context.Context, record *Record) error {
	query := `
		UPDATE transfers SET
			status = $2,
			retry_count = $3,
			error_message = $4,
			confirmed_at = $5,
			unregistered_at = $6,
			completed_at = $7
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		record.ID,
		string(record.Status),
		record.RetryCount,
		record.ErrorMessage,
		nullTime(record.ConfirmedAt),
		nullTime(record.UnregisteredAt),
		nullTime(record.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByCitizen(ctx context.Context, citizenID int64) ([]*Record, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE citizen_id = $1 ORDER BY initiated_at`
	return s.list(ctx, query, citizenID)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, direction Direction, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE status = $1 AND direction = $2 ORDER BY initiated_at LIMIT $3`
	return s.list(ctx, query, string(status), string(direction), limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		record, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*Record, error) {
	var (
		record                       Record
		direction, status            string
		docIDs, docURLs              []byte
		confirmed, unreg, completed  sql.NullTime
	)
	err := row.Scan(
		&record.ID,
		&record.IdempotencyKey,
		&record.CitizenID,
		&record.CitizenName,
		&record.CitizenEmail,
		&direction,
		&record.SourceOperatorID,
		&record.SourceOperatorName,
		&record.DestinationOperatorID,
		&record.DestinationOperatorName,
		&record.ConfirmURL,
		&docIDs,
		&docURLs,
		&status,
		&record.RetryCount,
		&record.ErrorMessage,
		&record.InitiatedAt,
		&confirmed,
		&unreg,
		&completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan transfer: %w", err)
	}

	record.Direction = Direction(direction)
	record.Status = Status(status)
	if err := json.Unmarshal(docIDs, &record.DocumentIDs); err != nil {
		return nil, fmt.Errorf("decode document ids: %w", err)
	}
	if err := json.Unmarshal(docURLs, &record.DocumentURLs); err != nil {
		return nil, fmt.Errorf("decode document urls: %w", err)
	}
	record.ConfirmedAt = timeOrZero(confirmed)
	record.UnregisteredAt = timeOrZero(unreg)
	record.CompletedAt = timeOrZero(completed)
	return &record, nil
}

func marshalDocuments(record *Record) ([]byte, []byte, error) {
	ids := record.DocumentIDs
	if ids == nil {
		ids = []string{}
	}
	urls := record.DocumentURLs
	if urls == nil {
		urls = map[string][]string{}
	}
	docIDs, err := json.Marshal(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("encode document ids: %w", err)
	}
	docURLs, err := json.Marshal(urls)
	if err != nil {
		return nil, nil, fmt.Errorf("encode document urls: %w", err)
	}
	return docIDs, docURLs, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timeOrZero(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
