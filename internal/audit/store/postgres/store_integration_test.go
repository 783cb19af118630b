//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chainlog/internal/audit/chain"
	"chainlog/internal/audit/models"
	"chainlog/internal/audit/service"
	"chainlog/pkg/capability"
	"chainlog/pkg/platform/sentinel"
	"chainlog/pkg/testutil/containers"
)

// PostgresStoreSuite runs the store against a real PostgreSQL instance. The
// conditional append and the JSONB round-trip are exactly what the memory
// store cannot prove.
type PostgresStoreSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	store  *Store
	engine *chain.Engine
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = New(s.pg.DB)
	s.engine = chain.New()

	ctx := context.Background()
	s.Require().NoError(s.store.Migrate(ctx))
	s.Require().NoError(s.store.Migrate(ctx), "migrate must be idempotent")
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateAuditRecords(context.Background()))
}

// chained builds a record linked to prev and stamps its hash.
func (s *PostgresStoreSuite) chained(seq uint64, prevHash string) *models.Record {
	r := &models.Record{
		Sequence:  seq,
		ID:        uuid.New(),
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		EventType: models.EventDataAccess,
		Severity:  models.SeverityLow,
		Status:    models.StatusSuccess,
		UserID:    fmt.Sprintf("user-%d", seq%3),
		Resource:  fmt.Sprintf("table/%d", seq),
		Action:    "select",
		Details: map[string]any{
			"rows":    int(seq) * 10,
			"ratio":   0.25,
			"cached":  seq%2 == 0,
			"comment": "free text, with \"quotes\" and\nnewlines",
			"nested":  map[string]any{"b": 2, "a": 1},
		},
		IPAddress: "203.0.113.9",
		PrevHash:  prevHash,
	}
	r.Hash = s.engine.HashRecord(r)
	return r
}

func (s *PostgresStoreSuite) seed(n int) []*models.Record {
	ctx := context.Background()
	records := make([]*models.Record, 0, n)
	prev := chain.Genesis
	for i := 1; i <= n; i++ {
		r := s.chained(uint64(i), prev)
		s.Require().NoError(s.store.Append(ctx, r))
		records = append(records, r)
		prev = r.Hash
	}
	return records
}

func (s *PostgresStoreSuite) TestAppendAndRoundTrip() {
	ctx := context.Background()
	original := s.seed(1)[0]
	original.Metadata = nil

	got, err := s.store.Latest(ctx)
	s.Require().NoError(err)

	s.Equal(original.Sequence, got.Sequence)
	s.Equal(original.ID, got.ID)
	s.Equal(original.Timestamp, got.Timestamp, "TIMESTAMPTZ keeps microsecond precision")
	s.Equal(original.Hash, got.Hash)
	s.Equal(original.PrevHash, got.PrevHash)

	// the digest must be recomputable from what the database returns
	s.Equal(got.Hash, s.engine.HashRecord(got))
}

func (s *PostgresStoreSuite) TestMetadataRoundTrip() {
	ctx := context.Background()

	r := s.chained(1, chain.Genesis)
	r.Metadata = map[string]any{"region": "eu-west-1", "shard": 3}
	r.Hash = s.engine.HashRecord(r)
	s.Require().NoError(s.store.Append(ctx, r))

	got, err := s.store.Get(ctx, 1)
	s.Require().NoError(err)
	s.Equal("eu-west-1", got.Metadata["region"])
	s.Equal(got.Hash, s.engine.HashRecord(got))
}

func (s *PostgresStoreSuite) TestAppendRejectsStaleTail() {
	records := s.seed(2)

	// a record linked to the old tail must be refused
	stale := s.chained(3, records[0].Hash)
	err := s.store.Append(context.Background(), stale)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	count, err := s.store.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(2, count)
}

func (s *PostgresStoreSuite) TestAppendRejectsDuplicateSequence() {
	records := s.seed(1)

	dup := s.chained(1, records[0].Hash)
	err := s.store.Append(context.Background(), dup)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestEmptyTable() {
	ctx := context.Background()

	_, err := s.store.Latest(ctx)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Get(ctx, 1)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	count, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *PostgresStoreSuite) TestScanRange() {
	s.seed(5)

	var got []uint64
	err := s.store.Scan(context.Background(), 2, 4, func(r *models.Record) error {
		got = append(got, r.Sequence)
		return nil
	})
	s.Require().NoError(err)
	s.Equal([]uint64{2, 3, 4}, got)
}

func (s *PostgresStoreSuite) TestListFilterReverseLimit() {
	ctx := context.Background()
	s.seed(6)

	records, err := s.store.List(ctx, models.Filter{UserID: "user-1"})
	s.Require().NoError(err)
	s.Len(records, 2)

	records, err = s.store.List(ctx, models.Filter{Reverse: true, Limit: 3})
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal(uint64(6), records[0].Sequence)
	s.Equal(uint64(4), records[2].Sequence)
}

func (s *PostgresStoreSuite) TestServiceVerifiesChainOnPostgres() {
	ctx := context.Background()
	caller := capability.System("integration-test")

	svc, err := service.New(s.store, s.engine)
	s.Require().NoError(err)

	for i := 0; i < 20; i++ {
		_, err := svc.Log(ctx, caller, models.Event{
			EventType: models.EventUserAction,
			Severity:  models.SeverityMedium,
			Status:    models.StatusSuccess,
			Resource:  fmt.Sprintf("doc/%d", i),
			Action:    "update",
			Details:   map[string]any{"revision": i, "draft": i%2 == 0},
		})
		s.Require().NoError(err)
	}

	report, err := svc.VerifyIntegrity(ctx, caller, models.VerifyOptions{})
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Equal(20, report.RecordsChecked)

	// tamper out of band, the way an attacker with database access would
	_, err = s.pg.DB.ExecContext(ctx,
		`UPDATE audit_records SET action = 'delete' WHERE sequence = 7`)
	s.Require().NoError(err)

	report, err = svc.VerifyIntegrity(ctx, caller, models.VerifyOptions{})
	s.Require().NoError(err)
	s.False(report.Valid)
	s.Require().NotNil(report.FirstBreak)
	s.Equal(uint64(7), report.FirstBreak.Sequence)
	s.Equal(models.BreakHashMismatch, report.FirstBreak.Kind)
}
