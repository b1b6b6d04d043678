package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/barledger/barledger-backend/internal/inventory/migrations"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/barledger/barledger-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *database.DB
	containerOnce   sync.Once
	containerErr    error
	migrateOnce     sync.Once
	migrateErr      error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL.
// The schema is migrated once; tests isolate themselves with Truncate.
//
// Usage:
//
//	func TestMovementRepository_Integration(t *testing.T) {
//	    testutil.SkipIfShort(t)
//	    suite := testutil.NewIntegrationSuite(t)
//	    repo := repository.NewMovementRepository(suite.DB)
//	    // ...
//	}
type IntegrationSuite struct {
	Container *PostgresContainer
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container, applies the
// migrations and empties every table.
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	t.Helper()
	ctx := DefaultTestContext(t)

	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}

	migrateOnce.Do(func() {
		migrateErr = db.Migrate(migrations.FS, ".")
	})
	if migrateErr != nil {
		t.Fatalf("failed to migrate: %v", migrateErr)
	}

	suite := &IntegrationSuite{
		Container: container,
		DB:        db,
		Fixtures:  NewFixtureFactory(),
		Logger:    logger.Nop(),
	}
	suite.Truncate(t)
	return suite
}

// Truncate empties all inventory tables.
func (s *IntegrationSuite) Truncate(t *testing.T) {
	t.Helper()
	tables := []string{
		"stock_movements", "quarantined_events", "anomalies", "reconciliation_results",
		"par_forecasts", "recipes", "pour_devices", "tracked_items",
	}
	for _, table := range tables {
		if _, err := s.DB.ExecContext(context.Background(), fmt.Sprintf("TRUNCATE %s CASCADE", table)); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *database.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = database.NewWithDSN(globalContainer.DSN, logger.Nop())
	})

	return globalContainer, globalDB, containerErr
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		_ = globalContainer.Terminate(ctx)
	}
}

