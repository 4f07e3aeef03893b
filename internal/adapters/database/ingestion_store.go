package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	"github.com/zatekoja/waitingtimes/internal/domain/repositories"
	"github.com/zatekoja/waitingtimes/internal/infrastructure/clients/sqldb"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

const (
	tableJobs           = "jobs"
	tableProcedures     = "procedures"
	tableInstitutions   = "institutions"
	tableMaxAllowedDays = "max_allowed_days"
	tableWaitingPeriods = "waiting_periods"

	// sqliteTimeFormat keeps every stored timestamp the same width so TEXT
	// comparisons order the same way as the instants they encode.
	sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// IngestionStore implements repositories.IngestionStore on top of goqu
type IngestionStore struct {
	client  *sqldb.Client
	dialect goqu.DialectWrapper
	now     func() time.Time
	stamp   func(time.Time) interface{}
}

// NewIngestionStore creates a new ingestion store
func NewIngestionStore(client *sqldb.Client) *IngestionStore {
	return &IngestionStore{
		client:  client,
		dialect: goqu.Dialect(client.Dialect()),
		now:     func() time.Time { return time.Now().UTC() },
		stamp:   timestampFor(client.Dialect()),
	}
}

// timestampFor returns how times are bound for dialect. SQLite stores them
// as text, so they are pre-formatted in UTC at a fixed width.
func timestampFor(dialect string) func(time.Time) interface{} {
	if dialect == sqldb.DialectSQLite {
		return func(t time.Time) interface{} { return t.UTC().Format(sqliteTimeFormat) }
	}
	return func(t time.Time) interface{} { return t.UTC() }
}

var _ repositories.IngestionStore = (*IngestionStore)(nil)

// FindBySourceJobID retrieves a job by its upstream id
func (s *IngestionStore) FindBySourceJobID(ctx context.Context, sourceJobID string) (*entities.Job, error) {
	ds := s.dialect.From(tableJobs).
		Select("id", "git_lab_job_id").
		Where(goqu.Ex{"git_lab_job_id": sourceJobID}).
		Limit(1)

	return s.findJob(ctx, ds, fmt.Sprintf("job with source id %s not found", sourceJobID))
}

// FindStartedBetween retrieves a job whose start date falls in [from, to)
func (s *IngestionStore) FindStartedBetween(ctx context.Context, from, to time.Time) (*entities.Job, error) {
	ds := s.dialect.From(tableJobs).
		Select("id", "git_lab_job_id").
		Where(
			goqu.C("start_date").Gte(s.stamp(from)),
			goqu.C("start_date").Lt(s.stamp(to)),
		).
		Order(goqu.C("id").Asc()).
		Limit(1)

	return s.findJob(ctx, ds, fmt.Sprintf("no job started between %s and %s", from.Format(time.RFC3339), to.Format(time.RFC3339)))
}

func (s *IngestionStore) findJob(ctx context.Context, ds *goqu.SelectDataset, notFound string) (*entities.Job, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewStoreError("failed to build query", err)
	}

	job := &entities.Job{}
	err = s.client.DB().QueryRowContext(ctx, query, args...).Scan(&job.ID, &job.SourceJobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(notFound)
	}
	if err != nil {
		return nil, apperrors.NewStoreError("failed to get job", err)
	}
	return job, nil
}

// RunInTx runs fn in a transaction and rolls back if it fails
func (s *IngestionStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.IngestionTx) error) error {
	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewStoreError("failed to begin transaction", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("failed to roll back ingestion transaction")
		}
	}()

	if err := fn(ctx, &ingestionTx{tx: tx, dialect: s.dialect, now: s.now, stamp: s.stamp}); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.NewStoreError("ingestion transaction failed", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError("failed to commit transaction", err)
	}
	committed = true
	return nil
}

// WipeAll deletes every row of the five ingestion tables, children first
func (s *IngestionStore) WipeAll(ctx context.Context) error {
	return s.RunInTx(ctx, func(ctx context.Context, itx repositories.IngestionTx) error {
		tx := itx.(*ingestionTx)
		for _, table := range []string{tableWaitingPeriods, tableMaxAllowedDays, tableJobs, tableInstitutions, tableProcedures} {
			query, args, err := s.dialect.Delete(table).ToSQL()
			if err != nil {
				return apperrors.NewStoreError("failed to build delete query", err)
			}
			if _, err := tx.tx.ExecContext(ctx, query, args...); err != nil {
				return apperrors.NewStoreError(fmt.Sprintf("failed to wipe %s", table), err)
			}
		}
		return nil
	})
}

type ingestionTx struct {
	tx      *sql.Tx
	dialect goqu.DialectWrapper
	now     func() time.Time
	stamp   func(time.Time) interface{}
}

func (t *ingestionTx) FindProcedureIDs(ctx context.Context, codes []string) (map[string]int64, error) {
	return t.findIDs(ctx, tableProcedures, "code", codes)
}

func (t *ingestionTx) FindInstitutionIDs(ctx context.Context, names []string) (map[string]int64, error) {
	return t.findIDs(ctx, tableInstitutions, "name", names)
}

func (t *ingestionTx) findIDs(ctx context.Context, table, keyColumn string, keys []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return ids, nil
	}

	query, args, err := t.dialect.From(table).
		Select("id", keyColumn).
		Where(goqu.Ex{keyColumn: keys}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewStoreError("failed to build query", err)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreError(fmt.Sprintf("failed to look up %s", table), err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, apperrors.NewStoreError(fmt.Sprintf("failed to scan %s", table), err)
		}
		ids[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError(fmt.Sprintf("failed to read %s", table), err)
	}
	return ids, nil
}

func (t *ingestionTx) InsertJob(ctx context.Context, job *entities.Job) (bool, error) {
	now := t.now()
	inserted, err := t.insertIgnore(ctx, tableJobs, []interface{}{goqu.Record{
		"git_lab_job_id": job.SourceJobID,
		"start_date":     t.stamp(job.StartDate),
		"end_date":       t.stamp(job.EndDate),
		"created_at":     t.stamp(now),
		"updated_at":     t.stamp(now),
	}})
	if err != nil {
		return false, err
	}

	query, args, err := t.dialect.From(tableJobs).
		Select("id").
		Where(goqu.Ex{"git_lab_job_id": job.SourceJobID}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewStoreError("failed to build query", err)
	}
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&job.ID); err != nil {
		return false, apperrors.NewStoreError("failed to resolve job id", err)
	}
	job.CreatedAt, job.UpdatedAt = now, now

	return inserted > 0, nil
}

func (t *ingestionTx) InsertProcedures(ctx context.Context, procedures []entities.Procedure) (int, error) {
	now := t.now()
	rows := make([]interface{}, len(procedures))
	for i, p := range procedures {
		rows[i] = goqu.Record{
			"code":       p.Code,
			"name":       p.Name,
			"created_at": t.stamp(now),
			"updated_at": t.stamp(now),
		}
	}
	return t.insertIgnore(ctx, tableProcedures, rows)
}

func (t *ingestionTx) InsertInstitutions(ctx context.Context, institutions []entities.Institution) (int, error) {
	now := t.now()
	rows := make([]interface{}, len(institutions))
	for i, inst := range institutions {
		rows[i] = goqu.Record{
			"name":       inst.Name,
			"created_at": t.stamp(now),
			"updated_at": t.stamp(now),
		}
	}
	return t.insertIgnore(ctx, tableInstitutions, rows)
}

func (t *ingestionTx) InsertMaxAllowedDays(ctx context.Context, mads []entities.MaxAllowedDays) (int, error) {
	now := t.now()
	rows := make([]interface{}, len(mads))
	for i, m := range mads {
		rows[i] = goqu.Record{
			"job_id":       m.JobID,
			"procedure_id": m.ProcedureID,
			"regular":      m.Regular,
			"fast":         m.Fast,
			"very_fast":    m.VeryFast,
			"created_at":   t.stamp(now),
			"updated_at":   t.stamp(now),
		}
	}
	return t.insertIgnore(ctx, tableMaxAllowedDays, rows)
}

func (t *ingestionTx) InsertWaitingPeriods(ctx context.Context, wps []entities.WaitingPeriod) (int, error) {
	now := t.now()
	rows := make([]interface{}, len(wps))
	for i, w := range wps {
		rows[i] = goqu.Record{
			"job_id":         w.JobID,
			"institution_id": w.InstitutionID,
			"procedure_id":   w.ProcedureID,
			"regular":        nullInt(w.Regular),
			"fast":           nullInt(w.Fast),
			"very_fast":      nullInt(w.VeryFast),
			"created_at":     t.stamp(now),
			"updated_at":     t.stamp(now),
		}
	}
	return t.insertIgnore(ctx, tableWaitingPeriods, rows)
}

// insertIgnore renders ON CONFLICT DO NOTHING for postgres and INSERT OR
// IGNORE for sqlite.
func (t *ingestionTx) insertIgnore(ctx context.Context, table string, rows []interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query, args, err := t.dialect.Insert(table).
		Rows(rows...).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewStoreError("failed to build insert query", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.NewStoreError(fmt.Sprintf("failed to insert into %s", table), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewStoreError("failed to get rows affected", err)
	}
	return int(affected), nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
