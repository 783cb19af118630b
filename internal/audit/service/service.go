// Package service implements the audit log core: serialized appends that
// extend the hash chain, integrity verification, filtered reads, and
// compliance exports. The service owns the append lock; there is no
// package-level state.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chainlog/internal/audit/canonical"
	"chainlog/internal/audit/chain"
	"chainlog/internal/audit/export"
	"chainlog/internal/audit/metrics"
	"chainlog/internal/audit/models"
	"chainlog/internal/audit/ports"
	"chainlog/pkg/capability"
	dErrors "chainlog/pkg/domain-errors"
	"chainlog/pkg/platform/sentinel"
	"chainlog/pkg/requestcontext"
)

// maxAppendRetries bounds how often one Log call re-reads the tail after an
// optimistic conflict from another writer process.
const maxAppendRetries = 3

// leaseTTL bounds how long a crashed holder can block other writer
// processes sharing the append lease.
const leaseTTL = 5 * time.Second

// Service is the audit log core. Construct with New; all dependencies are
// injected.
type Service struct {
	store   ports.Store
	engine  *chain.Engine
	sink    ports.Sink
	lease   ports.Lease
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// appendMu serializes the read-tail/hash/persist critical section so two
	// records never derive their hash from the same previous hash.
	appendMu sync.Mutex
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSink sets a fan-out sink for committed records.
func WithSink(sink ports.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLease adds a cross-process append lease for deployments where several
// writer processes share one store.
func WithLease(lease ports.Lease) Option {
	return func(s *Service) { s.lease = lease }
}

// New creates the audit service.
func New(store ports.Store, engine *chain.Engine, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	if engine == nil {
		return nil, errors.New("chain engine is required")
	}

	svc := &Service{
		store:  store,
		engine: engine,
		tracer: otel.Tracer("chainlog/audit"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Log validates the event, extends the chain by exactly one record, and
// persists it atomically. Concurrent callers are serialized; each attempt
// reads the tail afresh, so retrying a failed append is safe.
func (s *Service) Log(ctx context.Context, cap capability.Capability, event models.Event) (*models.Record, error) {
	if !cap.Allows(capability.OpAppend) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "capability does not allow append")
	}
	if err := validateEvent(&event); err != nil {
		return nil, err
	}
	enrichFromContext(ctx, &event)

	ctx, span := s.tracer.Start(ctx, "audit.Log",
		trace.WithAttributes(attribute.String("audit.event_type", string(event.EventType))))
	defer span.End()

	record, err := s.append(ctx, event)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AppendFailures.Inc()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordsAppended.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "audit record appended",
			"sequence", record.Sequence,
			"event_type", record.EventType,
			"severity", record.Severity,
			"resource", record.Resource,
			"action", record.Action,
		)
	}

	// Sink hand-off happens after commit and outside the lock; the store is
	// the source of truth and sink failure must not fail the append.
	if s.sink != nil {
		if err := s.sink.Publish(ctx, record); err != nil {
			if s.metrics != nil {
				s.metrics.SinkDropped.Inc()
			}
			if s.logger != nil {
				s.logger.WarnContext(ctx, "audit sink publish failed",
					"sequence", record.Sequence, "error", err)
			}
		}
	}

	return record, nil
}

// append is the critical section: read tail, compute hash, persist. The
// blocking window contains no unrelated I/O.
func (s *Service) append(ctx context.Context, event models.Event) (*models.Record, error) {
	start := time.Now()
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	if s.metrics != nil {
		defer func() {
			s.metrics.AppendDuration.Observe(time.Since(start).Seconds())
		}()
	}

	if s.lease != nil {
		if err := s.lease.Acquire(ctx, leaseTTL); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire append lease")
		}
		defer func() {
			// Release on a fresh context: the append may already be durable,
			// and an expired ctx must not leave the lease held until TTL.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.lease.Release(releaseCtx)
		}()
	}

	for attempt := 0; ; attempt++ {
		seq := uint64(1)
		prevHash := chain.Genesis

		tail, err := s.store.Latest(ctx)
		switch {
		case err == nil:
			seq = tail.Sequence + 1
			prevHash = tail.Hash
		case errors.Is(err, sentinel.ErrNotFound):
			// empty log, genesis link
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "read chain tail")
		}

		record := newRecord(ctx, seq, prevHash, event)
		record.Hash = s.engine.ComputeHash(canonical.Encode(record), record.PrevHash)

		err = s.store.Append(ctx, record)
		if err == nil {
			return record, nil
		}
		if errors.Is(err, sentinel.ErrConflict) {
			if s.metrics != nil {
				s.metrics.AppendConflicts.Inc()
			}
			if attempt < maxAppendRetries {
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "append lost tail race")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "persist audit record")
	}
}

func newRecord(ctx context.Context, seq uint64, prevHash string, event models.Event) *models.Record {
	// Microsecond precision survives TIMESTAMPTZ round-trips, so a digest
	// computed at append time is reproducible from the stored record.
	ts := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)

	return &models.Record{
		Sequence:      seq,
		ID:            uuid.New(),
		Timestamp:     ts,
		EventType:     event.EventType,
		Severity:      event.Severity,
		Status:        event.Status,
		UserID:        event.UserID,
		Resource:      event.Resource,
		Action:        event.Action,
		Details:       event.Details,
		IPAddress:     event.IPAddress,
		UserAgent:     event.UserAgent,
		CorrelationID: event.CorrelationID,
		Source:        event.Source,
		Metadata:      event.Metadata,
		PrevHash:      prevHash,
	}
}

func validateEvent(event *models.Event) error {
	if event.EventType == "" {
		return dErrors.New(dErrors.CodeValidation, "event_type is required")
	}
	if !event.EventType.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown event_type %q", event.EventType)
	}
	if event.Severity == "" {
		return dErrors.New(dErrors.CodeValidation, "severity is required")
	}
	if !event.Severity.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown severity %q", event.Severity)
	}
	if event.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	if !event.Status.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown status %q", event.Status)
	}
	if event.Resource == "" {
		return dErrors.New(dErrors.CodeValidation, "resource is required")
	}
	if event.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	if event.Details == nil {
		return dErrors.New(dErrors.CodeValidation, "details must be present (may be empty)")
	}
	return nil
}

func enrichFromContext(ctx context.Context, event *models.Event) {
	if event.IPAddress == "" {
		event.IPAddress = requestcontext.ClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = requestcontext.UserAgent(ctx)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = requestcontext.RequestID(ctx)
	}
}

// GetRecords returns records matching the filter, newest-first when the
// filter requests reverse. Not itself security-critical; reporting surfaces
// use it.
func (s *Service) GetRecords(ctx context.Context, cap capability.Capability, filter models.Filter) ([]*models.Record, error) {
	if !cap.Allows(capability.OpRead) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "capability does not allow read")
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}

	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list audit records")
	}
	return records, nil
}

// GenerateExport renders records matching the filter as CSV. An empty match
// still yields a header-only document.
func (s *Service) GenerateExport(ctx context.Context, cap capability.Capability, filter models.Filter) (string, error) {
	if !cap.Allows(capability.OpExport) {
		return "", dErrors.New(dErrors.CodeUnauthorized, "capability does not allow export")
	}
	if err := validateFilter(filter); err != nil {
		return "", err
	}

	ctx, span := s.tracer.Start(ctx, "audit.GenerateExport")
	defer span.End()

	records, err := s.store.List(ctx, filter)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "list audit records")
	}

	out, err := export.Render(records)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "render export")
	}

	if s.metrics != nil {
		s.metrics.ExportRows.Add(float64(len(records)))
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "audit export generated", "rows", len(records))
	}
	return out, nil
}

func validateFilter(filter models.Filter) error {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return dErrors.New(dErrors.CodeBadRequest, "filter time range is contradictory: from is after to")
	}
	if filter.EventType != "" && !filter.EventType.Valid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown event_type %q in filter", filter.EventType)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown severity %q in filter", filter.Severity)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown status %q in filter", filter.Status)
	}
	return nil
}
