// Package ports declares the interfaces the audit service depends on, so
// store, sink, and lock implementations stay swappable.
package ports

import (
	"context"
	"time"

	"chainlog/internal/audit/models"
)

// Store is the ordered, appendable record store behind a log. Sequence
// numbers define the total order; implementations must return records in
// ascending sequence unless the filter requests reverse.
type Store interface {
	// Append persists a complete record atomically. Implementations backing
	// multi-process deployments must reject an append whose PrevHash no
	// longer matches the stored tail with sentinel.ErrConflict.
	Append(ctx context.Context, record *models.Record) error

	// Latest returns the most recently appended record, or
	// sentinel.ErrNotFound on an empty log.
	Latest(ctx context.Context) (*models.Record, error)

	// Get returns the record at the given sequence, or sentinel.ErrNotFound.
	Get(ctx context.Context, seq uint64) (*models.Record, error)

	// Scan streams records with sequence in [fromSeq, toSeq] (zero toSeq
	// means unbounded) in ascending order, invoking fn per record. A non-nil
	// error from fn stops the scan and is returned verbatim.
	Scan(ctx context.Context, fromSeq, toSeq uint64, fn func(*models.Record) error) error

	// List returns records matching the filter, honoring Reverse and Limit.
	List(ctx context.Context, filter models.Filter) ([]*models.Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Sink receives committed records after they are durably appended. Sinks are
// advisory fan-out (SIEM, alerting); the store remains the source of truth
// and sink errors never fail an append.
type Sink interface {
	Publish(ctx context.Context, record *models.Record) error
	Close() error
}

// Lease is a cross-process advisory lock guarding the append critical
// section when several writer processes share one store.
type Lease interface {
	// Acquire blocks until the lease is held or ctx is done.
	Acquire(ctx context.Context, ttl time.Duration) error
	// Release frees the lease if still held by this owner.
	Release(ctx context.Context) error
}
