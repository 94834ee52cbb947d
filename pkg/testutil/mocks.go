package testutil

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sitecomply/sitecomply-backend/pkg/database"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

// MockDB wraps sqlmock for repository unit tests
type MockDB struct {
	DB         *database.DB
	Mock       sqlmock.Sqlmock
	SearchPath string
}

// NewMockDB creates a mock database whose tenant transactions use searchPath.
//
// Usage:
//
//	mockDB := testutil.NewMockDB(t, "cardcheck, public")
//	defer mockDB.Close()
//	mockDB.ExpectTenantExec(tenantID, "INSERT INTO card_verifications", sqlmock.NewResult(1, 1))
//	repo := repository.NewVerificationRepository(mockDB.DB)
func NewMockDB(t *testing.T, searchPath string) *MockDB {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return &MockDB{
		DB:         database.Wrap(sqlx.NewDb(db, "postgres"), searchPath, logger.Nop()),
		Mock:       mock,
		SearchPath: searchPath,
	}
}

// Close closes the mock database connection
func (m *MockDB) Close() error {
	return m.DB.Close()
}

// ExpectationsWereMet fails the test if any expectation is unfulfilled
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled mock expectations: %v", err)
	}
}

// MockRows creates a new mock rows object
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

func (m *MockDB) expectTenantPrologue(tenantID string) {
	m.Mock.ExpectBegin()
	m.Mock.ExpectExec(regexp.QuoteMeta("SET LOCAL search_path TO " + m.SearchPath)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.Mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('app.current_tenant', $1, true)")).
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// ExpectTenantQuery sets up a tenant-scoped query: begin, search_path, tenant setting, query, commit.
// The query is matched as a literal prefix.
func (m *MockDB) ExpectTenantQuery(tenantID, query string, rows *sqlmock.Rows) *sqlmock.ExpectedQuery {
	m.expectTenantPrologue(tenantID)
	q := m.Mock.ExpectQuery(regexp.QuoteMeta(query)).WillReturnRows(rows)
	m.Mock.ExpectCommit()
	return q
}

// ExpectTenantExec sets up a tenant-scoped exec: begin, search_path, tenant setting, exec, commit.
func (m *MockDB) ExpectTenantExec(tenantID, query string, result driver.Result) *sqlmock.ExpectedExec {
	m.expectTenantPrologue(tenantID)
	e := m.Mock.ExpectExec(regexp.QuoteMeta(query)).WillReturnResult(result)
	m.Mock.ExpectCommit()
	return e
}

// ExpectTenantExecError sets up a tenant-scoped exec that fails and rolls back.
func (m *MockDB) ExpectTenantExecError(tenantID, query string, err error) {
	m.expectTenantPrologue(tenantID)
	m.Mock.ExpectExec(regexp.QuoteMeta(query)).WillReturnError(err)
	m.Mock.ExpectRollback()
}

// AnyTime is a matcher for any time.Time value
type AnyTime struct{}

// Match satisfies the sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// AnyUUID is a matcher for any UUID string
type AnyUUID struct{}

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Match satisfies the sqlmock.Argument interface
func (a AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && uuidPattern.MatchString(s)
}

// RecordingPublisher records published events. Safe for concurrent use.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

// PublishedEvent represents an event that was published
type PublishedEvent struct {
	Type    string
	Payload interface{}
}

// NewRecordingPublisher creates a new recorder
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// Publish records an event for later verification
func (m *RecordingPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, PublishedEvent{Type: eventType, Payload: payload})
	return nil
}

// Events returns a copy of everything published so far
func (m *RecordingPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedEvent(nil), m.events...)
}

// OfType returns the payloads of events with the given type
func (m *RecordingPublisher) OfType(eventType string) []interface{} {
	var out []interface{}
	for _, e := range m.Events() {
		if e.Type == eventType {
			out = append(out, e.Payload)
		}
	}
	return out
}

// AssertEventPublished checks if an event of the given type was published
func (m *RecordingPublisher) AssertEventPublished(t *testing.T, eventType string) {
	t.Helper()
	if len(m.OfType(eventType)) == 0 {
		t.Errorf("expected event %q to be published, but it wasn't", eventType)
	}
}

// AssertNoEventsPublished checks that no events were published
func (m *RecordingPublisher) AssertNoEventsPublished(t *testing.T) {
	t.Helper()
	if events := m.Events(); len(events) > 0 {
		t.Errorf("expected no events, but got %d: %+v", len(events), events)
	}
}
