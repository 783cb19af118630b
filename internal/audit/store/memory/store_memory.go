// Package memory provides the in-memory audit store used in development mode
// and by unit tests.
package memory

import (
	"context"
	"sync"

	"chainlog/internal/audit/models"
	"chainlog/pkg/platform/sentinel"
)

// Store keeps records in an append-ordered slice guarded by a RWMutex.
// Callers always receive copies, so stored history can only change through
// Corrupt or Delete, which exist to exercise the verifier.
type Store struct {
	mu      sync.RWMutex
	records []*models.Record
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Append stores a copy of the record. The append is rejected with
// sentinel.ErrConflict when the record's PrevHash does not extend the
// current tail, mirroring the optimistic discipline of the SQL store.
func (s *Store) Append(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.records); n > 0 {
		tail := s.records[n-1]
		if record.PrevHash != tail.Hash || record.Sequence != tail.Sequence+1 {
			return sentinel.ErrConflict
		}
	}

	cp := clone(record)
	s.records = append(s.records, cp)
	return nil
}

// Latest returns a copy of the most recently appended record.
func (s *Store) Latest(_ context.Context) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.records[len(s.records)-1]), nil
}

// Get returns a copy of the record at the given sequence.
func (s *Store) Get(_ context.Context, seq uint64) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.Sequence == seq {
			return clone(r), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// Scan streams records in [fromSeq, toSeq] in ascending sequence order. It
// iterates over a snapshot taken at call time, so records appended mid-scan
// are not observed.
func (s *Store) Scan(ctx context.Context, fromSeq, toSeq uint64, fn func(*models.Record) error) error {
	s.mu.RLock()
	snapshot := make([]*models.Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Sequence < fromSeq || (toSeq > 0 && r.Sequence > toSeq) {
			continue
		}
		if err := fn(clone(r)); err != nil {
			return err
		}
	}
	return nil
}

// List returns copies of records matching the filter.
func (s *Store) List(_ context.Context, filter models.Filter) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Record, 0)
	for _, r := range s.records {
		if filter.Matches(r) {
			matched = append(matched, clone(r))
		}
	}

	if filter.Reverse {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of stored records.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Clear drops all records. Test isolation helper.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Corrupt mutates the stored record at seq in place, simulating out-of-band
// modification of persisted history. Returns false when seq does not exist.
func (s *Store) Corrupt(seq uint64, mutate func(*models.Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.Sequence == seq {
			mutate(r)
			return true
		}
	}
	return false
}

// Delete removes the record at seq, simulating storage loss. Returns false
// when seq does not exist.
func (s *Store) Delete(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.records {
		if r.Sequence == seq {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true
		}
	}
	return false
}

func clone(r *models.Record) *models.Record {
	cp := *r
	cp.Details = cloneMap(r.Details)
	cp.Metadata = cloneMap(r.Metadata)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
