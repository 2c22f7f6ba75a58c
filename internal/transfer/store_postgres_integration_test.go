//go:build integration

package transfer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"carpeta/internal/platform/postgres"
)

type PostgresStoreSuite struct {
	suite.Suite
	db    *sql.DB
	store *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("carpeta"),
		tcpostgres.WithUsername("carpeta"),
		tcpostgres.WithPassword("carpeta"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := postgres.Open(dsn)
	s.Require().NoError(err)
	s.db = db

	s.store = NewPostgresStore(db)
	s.Require().NoError(s.store.EnsureSchema(ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.ExecContext(context.Background(), "TRUNCATE TABLE transfers")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) sampleRecord(id, key string) *Record {
	return &Record{
		ID:                      id,
		IdempotencyKey:          key,
		CitizenID:               1032456789,
		CitizenName:             "Maria Gomez",
		CitizenEmail:            "maria.gomez@example.com",
		Direction:               DirectionOutgoing,
		SourceOperatorID:        "OP1",
		SourceOperatorName:      "Carpeta Andina",
		DestinationOperatorID:   "OP2",
		DestinationOperatorName: "Folder Sur",
		DocumentIDs:             []string{"cedula"},
		DocumentURLs:            map[string][]string{"cedula": {"https://docs.example.com/cedula.pdf"}},
		Status:                  StatusPending,
		InitiatedAt:             time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestCreateAndRoundTrip() {
	ctx := context.Background()
	record := s.sampleRecord("t1", "k1")

	s.Require().NoError(s.store.Create(ctx, record))

	got, err := s.store.Get(ctx, "t1")
	s.Require().NoError(err)
	s.Equal(record.IdempotencyKey, got.IdempotencyKey)
	s.Equal(record.CitizenID, got.CitizenID)
	s.Equal(record.DocumentURLs, got.DocumentURLs)
	s.Equal(StatusPending, got.Status)
	s.True(got.ConfirmedAt.IsZero())
}

func (s *PostgresStoreSuite) TestIdempotencyKeyUniqueness() {
	ctx := context.Background()

	s.Require().NoError(s.store.Create(ctx, s.sampleRecord("t1", "k1")))
	err := s.store.Create(ctx, s.sampleRecord("t2", "k1"))
	s.Require().ErrorIs(err, ErrDuplicateKey)

	got, err := s.store.GetByIdempotencyKey(ctx, "k1")
	s.Require().NoError(err)
	s.Equal("t1", got.ID)
}

func (s *PostgresStoreSuite) TestUpdatePersistsTransition() {
	ctx := context.Background()
	record := s.sampleRecord("t1", "k1")
	s.Require().NoError(s.store.Create(ctx, record))

	now := time.Now().UTC().Truncate(time.Microsecond)
	record.Status = StatusConfirmed
	record.ConfirmedAt = now
	s.Require().NoError(s.store.Update(ctx, record))

	got, err := s.store.Get(ctx, "t1")
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, got.Status)
	s.WithinDuration(now, got.ConfirmedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestListByStatus() {
	ctx := context.Background()

	s.Require().NoError(s.store.Create(ctx, s.sampleRecord("t1", "k1")))
	confirmed := s.sampleRecord("t2", "k2")
	confirmed.Status = StatusConfirmed
	s.Require().NoError(s.store.Create(ctx, confirmed))

	pending, err := s.store.ListByStatus(ctx, StatusPending, DirectionOutgoing, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
	s.Equal("t1", pending[0].ID)
}

func (s *PostgresStoreSuite) TestListByStatusFiltersDirection() {
	ctx := context.Background()

	incoming := s.sampleRecord("t1", "k1")
	incoming.Direction = DirectionIncoming
	incoming.Status = StatusConfirmed
	s.Require().NoError(s.store.Create(ctx, incoming))

	outgoing := s.sampleRecord("t2", "k2")
	outgoing.Status = StatusConfirmed
	s.Require().NoError(s.store.Create(ctx, outgoing))

	confirmed, err := s.store.ListByStatus(ctx, StatusConfirmed, DirectionOutgoing, 1)
	s.Require().NoError(err)
	s.Len(confirmed, 1)
	s.Equal("t2", confirmed[0].ID)
}

func (s *PostgresStoreSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "nope")
	s.Require().ErrorIs(err, ErrNotFound)
}
