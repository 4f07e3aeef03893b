package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/waitingtimes/internal/domain/entities"
)

// JobRepository answers the admission gate's questions about stored jobs.
// Returned jobs only carry ID and SourceJobID.
type JobRepository interface {
	// FindBySourceJobID returns the job with the given upstream id, or a
	// NOT_FOUND error
	FindBySourceJobID(ctx context.Context, sourceJobID string) (*entities.Job, error)

	// FindStartedBetween returns a job whose start date lies in [from, to),
	// or a NOT_FOUND error
	FindStartedBetween(ctx context.Context, from, to time.Time) (*entities.Job, error)
}

// IngestionTx is the transaction-scoped view of the store one ingestion
// writes through. Every insert is insert-or-ignore on the natural key and
// returns the number of rows actually inserted.
type IngestionTx interface {
	// FindProcedureIDs maps each stored code to its procedure id
	FindProcedureIDs(ctx context.Context, codes []string) (map[string]int64, error)

	// FindInstitutionIDs maps each stored name to its institution id
	FindInstitutionIDs(ctx context.Context, names []string) (map[string]int64, error)

	// InsertJob stores the job unless its source id already exists, and
	// sets job.ID to the stored row's id either way
	InsertJob(ctx context.Context, job *entities.Job) (bool, error)

	InsertProcedures(ctx context.Context, procedures []entities.Procedure) (int, error)
	InsertInstitutions(ctx context.Context, institutions []entities.Institution) (int, error)
	InsertMaxAllowedDays(ctx context.Context, rows []entities.MaxAllowedDays) (int, error)
	InsertWaitingPeriods(ctx context.Context, rows []entities.WaitingPeriod) (int, error)
}

// IngestionStore is the relational store the pipeline reconciles against
type IngestionStore interface {
	JobRepository

	// RunInTx runs fn in one transaction, committing only if fn succeeds
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx IngestionTx) error) error

	// WipeAll deletes every job-scoped and dimension row
	WipeAll(ctx context.Context) error
}
