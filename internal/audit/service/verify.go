package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainlog/internal/audit/chain"
	"chainlog/internal/audit/models"
	"chainlog/pkg/capability"
	dErrors "chainlog/pkg/domain-errors"
	"chainlog/pkg/platform/sentinel"
)

// errStopScan halts the store scan once the default policy has found its
// first break. Never returned to callers.
var errStopScan = errors.New("stop scan")

// VerifyIntegrity recomputes the hash chain over stored records and reports
// every deviation. A broken chain is a normal result carried in the report;
// only unreachable storage is an error. The scan is bounded by the latest
// sequence observed at start, so records appended mid-run are simply out of
// range rather than spurious breaks.
func (s *Service) VerifyIntegrity(ctx context.Context, cap capability.Capability, opts models.VerifyOptions) (*models.IntegrityReport, error) {
	if !cap.Allows(capability.OpVerify) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "capability does not allow verify")
	}

	ctx, span := s.tracer.Start(ctx, "audit.VerifyIntegrity")
	defer span.End()

	start := time.Now()
	if s.metrics != nil {
		s.metrics.VerifyRuns.Inc()
		defer func() {
			s.metrics.VerifyDuration.Observe(time.Since(start).Seconds())
		}()
	}

	report := &models.IntegrityReport{
		Valid:      true,
		VerifiedAt: start.UTC(),
	}

	fromSeq := opts.Range.FromSeq
	if fromSeq == 0 {
		fromSeq = 1
	}

	// Snapshot the upper bound before scanning.
	toSeq := opts.Range.ToSeq
	if toSeq == 0 {
		tail, err := s.store.Latest(ctx)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return report, nil // empty log is trivially valid
		case err != nil:
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "read chain tail")
		default:
			toSeq = tail.Sequence
		}
	}
	report.UpToSequence = toSeq

	expectedPrev, err := s.seedPrevHash(ctx, fromSeq)
	if err != nil {
		return nil, err
	}

	expectedSeq := fromSeq
	stopped := false
	scanErr := s.store.Scan(ctx, fromSeq, toSeq, func(r *models.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		found := s.checkRecord(r, expectedSeq, expectedPrev, report)

		report.RecordsChecked++
		// Re-seed from the stored chain so that in ScanAll mode each
		// independently tampered region is reported once.
		expectedPrev = r.Hash
		expectedSeq = r.Sequence + 1

		if found && !opts.ScanAll {
			stopped = true
			return errStopScan
		}
		return nil
	})
	if scanErr != nil && !errors.Is(scanErr, errStopScan) {
		if errors.Is(scanErr, context.Canceled) || errors.Is(scanErr, context.DeadlineExceeded) {
			return nil, scanErr
		}
		return nil, dErrors.Wrap(scanErr, dErrors.CodeUnavailable, "scan audit records")
	}

	// A scan that ran to completion but ended before its bound means
	// trailing records are missing.
	if !stopped && expectedSeq <= toSeq {
		gap := models.Break{
			Kind:     models.BreakSequenceGap,
			Sequence: expectedSeq,
			Detail:   fmt.Sprintf("records %d through %d are missing", expectedSeq, toSeq),
		}
		report.Breaks = append(report.Breaks, gap)
	}

	if len(report.Breaks) > 0 {
		report.Valid = false
		report.FirstBreak = &report.Breaks[0]
		if s.metrics != nil {
			s.metrics.BreaksDetected.Add(float64(len(report.Breaks)))
		}
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "audit chain integrity broken",
				"first_break_sequence", report.FirstBreak.Sequence,
				"first_break_kind", report.FirstBreak.Kind,
				"breaks", len(report.Breaks),
				"records_checked", report.RecordsChecked,
			)
		}
	}

	return report, nil
}

// seedPrevHash returns the expected previous hash for the first scanned
// record: Genesis for a full scan, otherwise the hash of the record
// immediately preceding the range.
func (s *Service) seedPrevHash(ctx context.Context, fromSeq uint64) (string, error) {
	if fromSeq <= 1 {
		return chain.Genesis, nil
	}
	prev, err := s.store.Get(ctx, fromSeq-1)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", dErrors.Newf(dErrors.CodeNotFound,
			"cannot verify suffix: record %d preceding the range does not exist", fromSeq-1)
	}
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "read range predecessor")
	}
	return prev.Hash, nil
}

// checkRecord appends any breaks found on r to the report and reports
// whether one was found. Order matters: a structural gap is reported before
// the (now unanchored) linkage checks.
func (s *Service) checkRecord(r *models.Record, expectedSeq uint64, expectedPrev string, report *models.IntegrityReport) bool {
	found := false

	if r.Sequence != expectedSeq {
		report.Breaks = append(report.Breaks, models.Break{
			Kind:     models.BreakSequenceGap,
			Sequence: r.Sequence,
			RecordID: r.ID,
			Detail:   fmt.Sprintf("expected sequence %d, found %d", expectedSeq, r.Sequence),
		})
		found = true
		// The linkage expectation is meaningless across the gap; check the
		// record against its own stored PrevHash instead.
		expectedPrev = r.PrevHash
	}

	if r.PrevHash != expectedPrev {
		report.Breaks = append(report.Breaks, models.Break{
			Kind:     models.BreakLinkMismatch,
			Sequence: r.Sequence,
			RecordID: r.ID,
			Expected: expectedPrev,
			Actual:   r.PrevHash,
		})
		found = true
	}

	if computed := s.engine.HashRecord(r); computed != r.Hash {
		report.Breaks = append(report.Breaks, models.Break{
			Kind:     models.BreakHashMismatch,
			Sequence: r.Sequence,
			RecordID: r.ID,
			Expected: computed,
			Actual:   r.Hash,
		})
		found = true
	}

	return found
}
