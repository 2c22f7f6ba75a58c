//go:build integration

package audit

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
	_, err := s.db.ExecContext(context.Background(), "TRUNCATE TABLE hub_audit")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestAppendAndListByOperation() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.Append(ctx, HubCall{
		Timestamp: base,
		Operation: "registerCitizen",
		Payload:   map[string]string{"id": "***6789"},
		Status:    201,
		Message:   "Ciudadano registrado exitosamente",
		Attempts:  1,
		Success:   true,
	}))
	s.Require().NoError(s.store.Append(ctx, HubCall{
		Timestamp: base.Add(time.Second),
		Operation: "registerCitizen",
		Status:    501,
		Message:   "ya se encuentra registrado",
		Attempts:  1,
	}))
	s.Require().NoError(s.store.Append(ctx, HubCall{
		Timestamp: base,
		Operation: "unregisterCitizen",
		Status:    204,
		Success:   true,
	}))

	calls, err := s.store.ListByOperation(ctx, "registerCitizen")
	s.Require().NoError(err)
	s.Require().Len(calls, 2)
	s.Equal("***6789", calls[0].Payload["id"])
	s.True(calls[0].Success)
	s.Equal(501, calls[1].Status)
	s.False(calls[1].Success)
}

func (s *PostgresStoreSuite) TestEmptyPayloadRoundTrips() {
	ctx := context.Background()

	s.Require().NoError(s.store.Append(ctx, HubCall{
		Timestamp: time.Now().UTC(),
		Operation: "getOperators",
		Status:    200,
		Success:   true,
	}))

	calls, err := s.store.ListByOperation(ctx, "getOperators")
	s.Require().NoError(err)
	s.Require().Len(calls, 1)
	s.Empty(calls[0].Payload)
}
