package testutil

import (
	"context"
	"os"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/sitecomply/sitecomply-backend/pkg/database"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

var (
	// Global test container shared by every integration test in the process
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and applies migrations.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    if testutil.IsShort() { os.Exit(m.Run()) }
//	    suite, err := testutil.NewIntegrationSuite(ctx, "cardcheck, public", repository.Migrations)
//	    ...
//	}
func NewIntegrationSuite(ctx context.Context, searchPath string, migrations []string) (*IntegrationSuite, error) {
	globalOnce(ctx)
	if containerErr != nil {
		return nil, containerErr
	}

	if err := ApplyMigrations(ctx, globalDB, migrations); err != nil {
		return nil, err
	}

	log := logger.Nop()
	return &IntegrationSuite{
		Container: globalContainer,
		RawDB:     globalDB,
		DB:        database.Wrap(globalDB, searchPath, log),
		Logger:    log,
	}, nil
}

func globalOnce(ctx context.Context) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})
}

// Cleanup closes the connection and terminates the container
func (s *IntegrationSuite) Cleanup(ctx context.Context) error {
	if s.RawDB != nil {
		s.RawDB.Close()
	}
	if s.Container != nil {
		return s.Container.Terminate(ctx)
	}
	return nil
}

// IsCI reports whether tests run in a CI environment
func IsCI() bool {
	return os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != ""
}

// SkipIntegration reports whether container-backed tests should be skipped.
// Set SITECOMPLY_SKIP_INTEGRATION=1 where Docker is unavailable.
func SkipIntegration() bool {
	return os.Getenv("SITECOMPLY_SKIP_INTEGRATION") != ""
}
