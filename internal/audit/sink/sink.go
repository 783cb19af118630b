// Package sink fans committed audit records out to external consumers
// (SIEM, alerting). The store remains the source of truth: the sink is
// buffered, asynchronous, and lossy under pressure, and its failures never
// fail an append.
package sink

import (
	"context"
	"errors"
	"log/slog"

	"chainlog/internal/audit/models"
)

// ErrBufferFull is returned by Publish when the sink cannot keep up and the
// record was dropped.
var ErrBufferFull = errors.New("sink buffer full")

// Writer delivers one record to the external system.
type Writer interface {
	Send(ctx context.Context, record *models.Record) error
	Close() error
}

// Buffered decouples the append path from sink delivery with a bounded
// channel and a single background worker.
type Buffered struct {
	writer Writer
	inbox  chan *models.Record
	logger *slog.Logger
	done   chan struct{}
}

// NewBuffered creates a buffered sink over writer with the given capacity.
// Run must be started for records to drain.
func NewBuffered(writer Writer, capacity int, logger *slog.Logger) *Buffered {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Buffered{
		writer: writer,
		inbox:  make(chan *models.Record, capacity),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Publish enqueues a committed record without blocking the append path.
func (b *Buffered) Publish(_ context.Context, record *models.Record) error {
	select {
	case b.inbox <- record:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run drains the inbox until ctx is cancelled, then flushes what remains.
func (b *Buffered) Run(ctx context.Context) error {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.flush()
			return ctx.Err()
		case record := <-b.inbox:
			b.send(record)
		}
	}
}

func (b *Buffered) flush() {
	for {
		select {
		case record := <-b.inbox:
			b.send(record)
		default:
			return
		}
	}
}

func (b *Buffered) send(record *models.Record) {
	// Delivery uses its own context: a cancelled server context must not
	// abort the final flush.
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := b.writer.Send(ctx, record); err != nil && b.logger != nil {
		b.logger.Warn("sink delivery failed",
			"sequence", record.Sequence, "error", err)
	}
}

// Close waits for the worker to exit and closes the writer.
func (b *Buffered) Close() error {
	<-b.done
	return b.writer.Close()
}
