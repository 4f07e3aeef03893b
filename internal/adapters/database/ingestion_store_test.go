package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/waitingtimes/internal/adapters/database/dbtest"
	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	"github.com/zatekoja/waitingtimes/internal/domain/repositories"
	"github.com/zatekoja/waitingtimes/internal/infrastructure/clients/sqldb"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

func setupMockStore(t *testing.T) (*IngestionStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	store := NewIngestionStore(sqldb.NewFromDB(mockDB, sqldb.DialectPostgres))
	store.now = func() time.Time { return time.Date(2024, 4, 7, 12, 0, 0, 0, time.UTC) }
	return store, mock
}

func TestRunInTx_BeginFailure(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.IngestionTx) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStore))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_InsertFailureRollsBack(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "institutions" .* ON CONFLICT\s+DO NOTHING`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.IngestionTx) error {
		_, err := tx.InsertInstitutions(ctx, []entities.Institution{{Name: "Hosp A"}})
		return err
	})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorTypeStore, appErr.Type)
	assert.Contains(t, appErr.Error(), "institutions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_WrapsPlainErrors(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.IngestionTx) error {
		return errors.New("unexpected")
	})

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStore))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_KeepsApplicationErrors(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.IngestionTx) error {
		return apperrors.NewReferentialIntegrityError("procedure", "P404")
	})

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeIntegrity))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_CommitFailure(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "procedures"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.IngestionTx) error {
		n, err := tx.InsertProcedures(ctx, []entities.Procedure{{Code: "P1", Name: "Proc"}})
		assert.Equal(t, 1, n)
		return err
	})

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStore))
	assert.Contains(t, err.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_SkipsEmptyInserts(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.IngestionTx) error {
		n, err := tx.InsertWaitingPeriods(ctx, nil)
		assert.Zero(t, n)
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBySourceJobID_Postgres(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT "id", "git_lab_job_id" FROM "jobs" WHERE \("git_lab_job_id" = '123'\) LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "git_lab_job_id"}).AddRow(7, "123"))
	mock.ExpectQuery(`FROM "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "git_lab_job_id"}))
	mock.ExpectQuery(`FROM "jobs"`).
		WillReturnError(errors.New("connection reset"))

	job, err := store.FindBySourceJobID(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, int64(7), job.ID)

	_, err = store.FindBySourceJobID(context.Background(), "456")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	_, err = store.FindBySourceJobID(context.Background(), "789")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStore))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestionStore_SQLite(t *testing.T) {
	client := dbtest.Open(t)
	store := NewIngestionStore(client)
	ctx := context.Background()

	start := time.Date(2024, 4, 7, 10, 0, 0, 0, time.UTC)

	t.Run("insert-or-ignore reports only new rows", func(t *testing.T) {
		err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.IngestionTx) error {
			n, err := tx.InsertInstitutions(ctx, []entities.Institution{{Name: "Hosp A"}, {Name: "Hosp B"}})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = tx.InsertInstitutions(ctx, []entities.Institution{{Name: "Hosp A"}, {Name: "Hosp B"}, {Name: "Hosp C"}})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			ids, err := tx.FindInstitutionIDs(ctx, []string{"Hosp A", "Hosp C", "Hosp Z"})
			require.NoError(t, err)
			assert.Len(t, ids, 2)
			assert.NotContains(t, ids, "Hosp Z")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, dbtest.Count(t, client, "institutions"))
	})

	t.Run("job insert resolves the id of an existing job", func(t *testing.T) {
		var first, second entities.Job
		err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.IngestionTx) error {
			first = entities.Job{SourceJobID: "123", StartDate: start, EndDate: start.Add(3 * time.Minute)}
			inserted, err := tx.InsertJob(ctx, &first)
			require.NoError(t, err)
			assert.True(t, inserted)

			second = entities.Job{SourceJobID: "123", StartDate: start, EndDate: start}
			inserted, err = tx.InsertJob(ctx, &second)
			require.NoError(t, err)
			assert.False(t, inserted)
			return nil
		})
		require.NoError(t, err)
		assert.NotZero(t, first.ID)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("gate queries", func(t *testing.T) {
		job, err := store.FindBySourceJobID(ctx, "123")
		require.NoError(t, err)
		assert.Equal(t, "123", job.SourceJobID)

		day := time.Date(2024, 4, 7, 0, 0, 0, 0, time.UTC)
		job, err = store.FindStartedBetween(ctx, day, day.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.Equal(t, "123", job.SourceJobID)

		_, err = store.FindStartedBetween(ctx, day.AddDate(0, 0, 1), day.AddDate(0, 0, 2))
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

		// The upper bound is exclusive.
		_, err = store.FindStartedBetween(ctx, day.Add(-24*time.Hour), start)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})

	t.Run("failed transaction leaves no rows", func(t *testing.T) {
		before := dbtest.Count(t, client, "procedures")
		err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.IngestionTx) error {
			_, err := tx.InsertProcedures(ctx, []entities.Procedure{{Code: "P1", Name: "Proc"}})
			require.NoError(t, err)
			return apperrors.NewConflictError("abort")
		})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
		assert.Equal(t, before, dbtest.Count(t, client, "procedures"))
	})

	t.Run("wipe empties every table", func(t *testing.T) {
		err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.IngestionTx) error {
			job := entities.Job{SourceJobID: "wipe-me", StartDate: start.AddDate(0, 0, 5), EndDate: start.AddDate(0, 0, 5)}
			if _, err := tx.InsertJob(ctx, &job); err != nil {
				return err
			}
			if _, err := tx.InsertProcedures(ctx, []entities.Procedure{{Code: "W1", Name: "Wipe"}}); err != nil {
				return err
			}
			procedures, err := tx.FindProcedureIDs(ctx, []string{"W1"})
			if err != nil {
				return err
			}
			institutions, err := tx.FindInstitutionIDs(ctx, []string{"Hosp A"})
			if err != nil {
				return err
			}
			days := 4
			if _, err := tx.InsertMaxAllowedDays(ctx, []entities.MaxAllowedDays{{JobID: job.ID, ProcedureID: procedures["W1"], Regular: 1, Fast: 1, VeryFast: 1}}); err != nil {
				return err
			}
			_, err = tx.InsertWaitingPeriods(ctx, []entities.WaitingPeriod{{JobID: job.ID, InstitutionID: institutions["Hosp A"], ProcedureID: procedures["W1"], Fast: &days}})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, dbtest.Count(t, client, "waiting_periods"))

		require.NoError(t, store.WipeAll(ctx))
		for _, table := range []string{"jobs", "procedures", "institutions", "max_allowed_days", "waiting_periods"} {
			assert.Zero(t, dbtest.Count(t, client, table), table)
		}
	})
}

func TestIngestionStore_SQLiteSubSecondStartsAroundMidnight(t *testing.T) {
	client := dbtest.Open(t)
	store := NewIngestionStore(client)
	ctx := context.Background()

	starts := map[string]time.Time{
		"after-midnight":  time.Date(2024, 4, 8, 0, 0, 0, 500_000_000, time.UTC),
		"before-midnight": time.Date(2024, 4, 9, 23, 59, 59, 250_000_000, time.UTC),
	}
	err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.IngestionTx) error {
		for id, start := range starts {
			job := entities.Job{SourceJobID: id, StartDate: start, EndDate: start.Add(time.Minute)}
			if _, err := tx.InsertJob(ctx, &job); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var stored string
	require.NoError(t, client.DB().QueryRow(`SELECT start_date FROM jobs WHERE git_lab_job_id = 'after-midnight'`).Scan(&stored))
	assert.Equal(t, "2024-04-08T00:00:00.500000000Z", stored)

	day := func(d int) (time.Time, time.Time) {
		from := time.Date(2024, 4, d, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 0, 1)
	}

	tests := []struct {
		name string
		day  int
		want string
	}{
		{name: "day before the fractional midnight start", day: 7},
		{name: "day of the fractional midnight start", day: 8, want: "after-midnight"},
		{name: "day of the fractional late start", day: 9, want: "before-midnight"},
		{name: "day after the fractional late start", day: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := day(tt.day)
			job, err := store.FindStartedBetween(ctx, from, to)
			if tt.want == "" {
				assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound), "got %v", job)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, job.SourceJobID)
		})
	}
}
