package services_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/waitingtimes/internal/adapters/database"
	"github.com/zatekoja/waitingtimes/internal/adapters/database/dbtest"
	"github.com/zatekoja/waitingtimes/internal/application/services"
	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	"github.com/zatekoja/waitingtimes/internal/domain/providers"
	"github.com/zatekoja/waitingtimes/internal/domain/repositories"
	"github.com/zatekoja/waitingtimes/internal/infrastructure/clients/sqldb"
)

// Mocks

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) FindBySourceJobID(ctx context.Context, sourceJobID string) (*entities.Job, error) {
	args := m.Called(ctx, sourceJobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Job), args.Error(1)
}

func (m *MockJobRepository) FindStartedBetween(ctx context.Context, from, to time.Time) (*entities.Job, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Job), args.Error(1)
}

type MockJobSource struct {
	mock.Mock
}

func (m *MockJobSource) ListJobs(ctx context.Context, first int, after string) (*entities.SourceJobPage, error) {
	args := m.Called(ctx, first, after)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SourceJobPage), args.Error(1)
}

func (m *MockJobSource) FetchArtifact(ctx context.Context, jobID string) ([]byte, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockCacheProvider struct {
	mock.Mock
}

func (m *MockCacheProvider) DeletePattern(ctx context.Context, pattern string) (int, error) {
	args := m.Called(ctx, pattern)
	return args.Int(0), args.Error(1)
}

var (
	_ repositories.JobRepository = (*MockJobRepository)(nil)
	_ providers.JobSource        = (*MockJobSource)(nil)
	_ providers.CacheProvider    = (*MockCacheProvider)(nil)
)

// failingStore wraps a real store and makes one transactional insert fail
// after the earlier inserts of the same transaction went through.
type failingStore struct {
	repositories.IngestionStore
	err error
}

func (s *failingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.IngestionTx) error) error {
	return s.IngestionStore.RunInTx(ctx, func(ctx context.Context, tx repositories.IngestionTx) error {
		return fn(ctx, &failingTx{IngestionTx: tx, err: s.err})
	})
}

type failingTx struct {
	repositories.IngestionTx
	err error
}

func (t *failingTx) InsertWaitingPeriods(ctx context.Context, rows []entities.WaitingPeriod) (int, error) {
	return 0, t.err
}

// harness wires the pipeline against a throwaway SQLite database
type harness struct {
	client  *sqldb.Client
	store   repositories.IngestionStore
	service *services.IngestionService
	seeder  *services.BulkSeeder
}

func newHarness(t *testing.T, chunkSize int) *harness {
	t.Helper()
	client := dbtest.Open(t)
	return newHarnessWithStore(t, client, database.NewIngestionStore(client), chunkSize, nil, nil)
}

func newHarnessWithStore(
	t *testing.T,
	client *sqldb.Client,
	store repositories.IngestionStore,
	chunkSize int,
	source providers.JobSource,
	cache providers.CacheProvider,
) *harness {
	t.Helper()

	gate := services.NewAdmissionGate(store, time.UTC)
	reconciler := services.NewReconciler(chunkSize)
	writer := services.NewTransactionalWriter(chunkSize)

	return &harness{
		client:  client,
		store:   store,
		service: services.NewIngestionService(store, gate, reconciler, writer, source, cache, nil),
		seeder:  services.NewBulkSeeder(store, gate, reconciler, writer),
	}
}

func (h *harness) count(t *testing.T, table string) int {
	t.Helper()
	return dbtest.Count(t, h.client, table)
}

func (h *harness) ingest(t *testing.T, sourceJobID string, doc []byte) *entities.Outcome {
	t.Helper()
	outcome, err := h.service.IngestDocument(context.Background(), sourceJobID, doc)
	require.NoError(t, err)
	return outcome
}

func (h *harness) procedureNames(t *testing.T) map[string]string {
	t.Helper()
	rows, err := h.client.DB().Query("SELECT code, name FROM procedures")
	require.NoError(t, err)
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var code, name string
		require.NoError(t, rows.Scan(&code, &name))
		names[code] = name
	}
	require.NoError(t, rows.Err())
	return names
}

func (h *harness) institutionNames(t *testing.T) []string {
	t.Helper()
	rows, err := h.client.DB().Query("SELECT name FROM institutions ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func (h *harness) totalRows(t *testing.T) int {
	t.Helper()
	total := 0
	for _, table := range []string{"jobs", "procedures", "institutions", "max_allowed_days", "waiting_periods"} {
		total += h.count(t, table)
	}
	return total
}

// g1Document is the canonical single-procedure scrape
const g1Document = `{
	"start": "2024-04-07T10:00:00Z",
	"end": "2024-04-07T10:03:00Z",
	"procedures": [{
		"code": "1003P",
		"name": "Test  Proc",
		"maxAllowedDays": {"regular": 10, "fast": 5, "veryFast": 2},
		"waitingPeriods": {
			"regular": [{"facility": " Hosp A ", "days": 7}],
			"fast": [],
			"veryFast": null
		}
	}]
}`

// procedureJSON renders one procedure waited on at the given facilities
// under the regular bucket
func procedureJSON(code, name string, facilities ...string) string {
	entries := make([]string, len(facilities))
	for i, f := range facilities {
		entries[i] = fmt.Sprintf(`{"facility": %q, "days": %d}`, f, i+1)
	}
	return fmt.Sprintf(`{
		"code": %q,
		"name": %q,
		"maxAllowedDays": {"regular": 30, "fast": 14, "veryFast": 3},
		"waitingPeriods": {"regular": [%s], "fast": null, "veryFast": null}
	}`, code, name, strings.Join(entries, ","))
}

func documentJSON(start string, procedures ...string) []byte {
	return []byte(fmt.Sprintf(`{"start": %q, "end": %q, "procedures": [%s]}`,
		start, start, strings.Join(procedures, ",")))
}
