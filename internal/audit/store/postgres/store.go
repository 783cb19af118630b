// Package postgres persists audit records in PostgreSQL. The append is
// conditional on the assumed chain tail, so multiple writer processes
// sharing one database cannot fork the chain: the loser of a race gets a
// conflict and retries against the fresh tail.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"chainlog/internal/audit/chain"
	"chainlog/internal/audit/models"
	"chainlog/pkg/platform/sentinel"
)

// Store implements ports.Store on database/sql with the pq driver.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the audit_records table when absent.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_records (
			sequence       BIGINT PRIMARY KEY,
			id             UUID NOT NULL UNIQUE,
			timestamp      TIMESTAMPTZ NOT NULL,
			event_type     TEXT NOT NULL,
			severity       TEXT NOT NULL,
			status         TEXT NOT NULL,
			user_id        TEXT NOT NULL DEFAULT '',
			resource       TEXT NOT NULL,
			action         TEXT NOT NULL,
			details        JSONB NOT NULL,
			ip_address     TEXT NOT NULL DEFAULT '',
			user_agent     TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			source         TEXT NOT NULL DEFAULT '',
			metadata       JSONB,
			hash           TEXT NOT NULL,
			prev_hash      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS audit_records_timestamp_idx ON audit_records (timestamp);
		CREATE INDEX IF NOT EXISTS audit_records_user_id_idx ON audit_records (user_id);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate audit records: %w", err)
	}
	return nil
}

// Append inserts the record iff its PrevHash still matches the stored tail
// (or Genesis on an empty table). A stale tail or a sequence collision
// surfaces as sentinel.ErrConflict so the caller can re-read and retry.
func (s *Store) Append(ctx context.Context, record *models.Record) error {
	details, err := json.Marshal(record.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	var metadata []byte
	if record.Metadata != nil {
		if metadata, err = json.Marshal(record.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	const query = `
		INSERT INTO audit_records (
			sequence, id, timestamp, event_type, severity, status,
			user_id, resource, action, details,
			ip_address, user_agent, correlation_id, source, metadata,
			hash, prev_hash
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		WHERE COALESCE(
			(SELECT hash FROM audit_records ORDER BY sequence DESC LIMIT 1),
			$18
		) = $17
	`
	res, err := s.db.ExecContext(ctx, query,
		int64(record.Sequence),
		record.ID,
		record.Timestamp,
		string(record.EventType),
		string(record.Severity),
		string(record.Status),
		record.UserID,
		record.Resource,
		record.Action,
		details,
		record.IPAddress,
		record.UserAgent,
		record.CorrelationID,
		record.Source,
		nullBytes(metadata),
		record.Hash,
		record.PrevHash,
		chain.Genesis,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert audit record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// Latest returns the most recently appended record.
func (s *Store) Latest(ctx context.Context) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` ORDER BY sequence DESC LIMIT 1`)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest record: %w", err)
	}
	return record, nil
}

// Get returns the record at the given sequence.
func (s *Store) Get(ctx context.Context, seq uint64) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE sequence = $1`, int64(seq))
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record %d: %w", seq, err)
	}
	return record, nil
}

// Scan streams records in [fromSeq, toSeq] in ascending sequence order.
func (s *Store) Scan(ctx context.Context, fromSeq, toSeq uint64, fn func(*models.Record) error) error {
	query := selectColumns + ` WHERE sequence >= $1`
	args := []any{int64(fromSeq)}
	if toSeq > 0 {
		query += ` AND sequence <= $2`
		args = append(args, int64(toSeq))
	}
	query += ` ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scan audit records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan audit record: %w", err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit records: %w", err)
	}
	return nil
}

// List returns records matching the filter.
func (s *Store) List(ctx context.Context, filter models.Filter) ([]*models.Record, error) {
	query := selectColumns + ` WHERE TRUE`
	var args []any

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.From.IsZero() {
		query += ` AND timestamp >= ` + next(filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND timestamp <= ` + next(filter.To)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ` + next(string(filter.EventType))
	}
	if filter.Severity != "" {
		query += ` AND severity = ` + next(string(filter.Severity))
	}
	if filter.Status != "" {
		query += ` AND status = ` + next(string(filter.Status))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ` + next(filter.UserID)
	}
	if filter.Resource != "" {
		query += ` AND resource = ` + next(filter.Resource)
	}

	if filter.Reverse {
		query += ` ORDER BY sequence DESC`
	} else {
		query += ` ORDER BY sequence ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ` + next(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return count, nil
}

const selectColumns = `
	SELECT sequence, id, timestamp, event_type, severity, status,
	       user_id, resource, action, details,
	       ip_address, user_agent, correlation_id, source, metadata,
	       hash, prev_hash
	FROM audit_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		record    models.Record
		seq       int64
		recordID  uuid.UUID
		timestamp time.Time
		eventType string
		severity  string
		status    string
		details   []byte
		metadata  []byte
	)

	err := row.Scan(
		&seq,
		&recordID,
		&timestamp,
		&eventType,
		&severity,
		&status,
		&record.UserID,
		&record.Resource,
		&record.Action,
		&details,
		&record.IPAddress,
		&record.UserAgent,
		&record.CorrelationID,
		&record.Source,
		&metadata,
		&record.Hash,
		&record.PrevHash,
	)
	if err != nil {
		return nil, err
	}

	record.Sequence = uint64(seq)
	record.ID = recordID
	record.Timestamp = timestamp.UTC()
	record.EventType = models.EventType(eventType)
	record.Severity = models.Severity(severity)
	record.Status = models.Status(status)

	if err := json.Unmarshal(details, &record.Details); err != nil {
		return nil, fmt.Errorf("unmarshal details: %w", err)
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &record, nil
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
