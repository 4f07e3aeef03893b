package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/waitingtimes/internal/domain/document"
	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	"github.com/zatekoja/waitingtimes/internal/domain/providers"
	"github.com/zatekoja/waitingtimes/internal/domain/repositories"
	"github.com/zatekoja/waitingtimes/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

// DashboardCachePattern matches every cached dashboard aggregate
const DashboardCachePattern = "dashboard:*"

// pipeline runs Admit -> Reconcile -> Write for one normalized document.
// Both the single-job service and the bulk seeder go through it.
type pipeline struct {
	store      repositories.IngestionStore
	gate       *AdmissionGate
	reconciler *Reconciler
	writer     *TransactionalWriter
}

func (p *pipeline) run(ctx context.Context, sourceJobID string, set *document.RecordSet) (*entities.Outcome, error) {
	admitCtx, admitSpan := observability.StartSpan(ctx, "ingestion.admit")
	admission, err := p.gate.Admit(admitCtx, sourceJobID, set.Start)
	observability.RecordError(admitSpan, err)
	admitSpan.End()
	if err != nil {
		return nil, err
	}
	if !admission.Admitted {
		return &entities.Outcome{Rejection: admission}, nil
	}

	var report *entities.Report
	ctx, span := observability.StartSpan(ctx, "ingestion.write")
	defer span.End()

	err = p.store.RunInTx(ctx, func(ctx context.Context, tx repositories.IngestionTx) error {
		plan, err := p.reconciler.Plan(ctx, tx, sourceJobID, set)
		if err != nil {
			return err
		}
		report, err = p.writer.Apply(ctx, tx, plan)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return &entities.Outcome{Report: report}, nil
}

// IngestionService ingests scrape jobs one at a time. Any failure aborts
// the whole job and leaves the store untouched.
type IngestionService struct {
	pipeline
	source  providers.JobSource
	cache   providers.CacheProvider
	metrics *observability.IngestionMetrics
}

// NewIngestionService creates a new ingestion service. source, cache and
// metrics may be nil.
func NewIngestionService(
	store repositories.IngestionStore,
	gate *AdmissionGate,
	reconciler *Reconciler,
	writer *TransactionalWriter,
	source providers.JobSource,
	cache providers.CacheProvider,
	metrics *observability.IngestionMetrics,
) *IngestionService {
	return &IngestionService{
		pipeline: pipeline{
			store:      store,
			gate:       gate,
			reconciler: reconciler,
			writer:     writer,
		},
		source:  source,
		cache:   cache,
		metrics: metrics,
	}
}

// IngestLatestJob ingests the most recent finished job of the source
func (s *IngestionService) IngestLatestJob(ctx context.Context) (*entities.Outcome, error) {
	if s.source == nil {
		return nil, fmt.Errorf("job source not configured")
	}

	page, err := s.source.ListJobs(ctx, 1, "")
	if err != nil {
		return nil, err
	}
	if len(page.Jobs) == 0 {
		return nil, apperrors.NewNotFoundError("job source returned no jobs")
	}

	latest := page.Jobs[0]
	observability.LoggerFromContext(ctx).Info().
		Str("source_job_id", latest.ID).
		Time("finished_at", latest.FinishedAt).
		Msg("discovered latest job")

	return s.IngestJobByID(ctx, latest.ID)
}

// IngestJobByID downloads and ingests one job. A job whose id is already
// stored is rejected before its artifact is downloaded.
func (s *IngestionService) IngestJobByID(ctx context.Context, jobID string) (*entities.Outcome, error) {
	if s.source == nil {
		return nil, fmt.Errorf("job source not configured")
	}

	ctx = observability.WithRun(ctx, uuid.NewString(), jobID)
	admission, err := s.gate.CheckSourceJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !admission.Admitted {
		s.logRejection(ctx, admission)
		s.metrics.RecordOutcome(ctx, "rejected")
		return &entities.Outcome{Rejection: admission}, nil
	}

	raw, err := s.source.FetchArtifact(ctx, jobID)
	if err != nil {
		s.metrics.RecordOutcome(ctx, "failed")
		return nil, err
	}

	return s.ingestDocument(ctx, jobID, raw)
}

// IngestDocument normalizes raw and ingests it as sourceJobID
func (s *IngestionService) IngestDocument(ctx context.Context, sourceJobID string, raw []byte) (*entities.Outcome, error) {
	return s.ingestDocument(observability.WithRun(ctx, uuid.NewString(), sourceJobID), sourceJobID, raw)
}

// ingestDocument expects ctx to already carry the run logger
func (s *IngestionService) ingestDocument(ctx context.Context, sourceJobID string, raw []byte) (*entities.Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "ingestion.job", attribute.String("source_job_id", sourceJobID))
	defer span.End()
	logger := observability.LoggerFromContext(ctx)

	set, err := document.Normalize(raw)
	if err != nil {
		observability.RecordError(span, err)
		s.metrics.RecordOutcome(ctx, "invalid")
		logger.Warn().Err(err).Msg("rejected malformed document")
		return nil, err
	}

	outcome, err := s.run(ctx, sourceJobID, set)
	if err != nil {
		observability.RecordError(span, err)
		s.metrics.RecordOutcome(ctx, "failed")
		if apperrors.IsType(err, apperrors.ErrorTypeIntegrity) {
			logger.Error().Err(err).Msg("referential integrity violated while planning ingestion; this is a bug")
		} else {
			logger.Error().Err(err).Msg("ingestion failed, transaction rolled back")
		}
		return nil, err
	}

	if !outcome.Ingested() {
		s.logRejection(ctx, outcome.Rejection)
		s.metrics.RecordOutcome(ctx, "rejected")
		return outcome, nil
	}

	s.metrics.RecordOutcome(ctx, "ingested")
	s.metrics.RecordReport(ctx, outcome.Report)
	logReport(ctx, outcome.Report)
	s.invalidateDashboard(ctx)

	return outcome, nil
}

func (s *IngestionService) invalidateDashboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	removed, err := s.cache.DeletePattern(ctx, DashboardCachePattern)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Msg("failed to invalidate dashboard cache")
		return
	}
	observability.LoggerFromContext(ctx).Debug().Int("keys", removed).Msg("invalidated dashboard cache")
}

func (s *IngestionService) logRejection(ctx context.Context, admission *entities.Admission) {
	observability.LoggerFromContext(ctx).Info().
		Str("reason", string(admission.Reason)).
		Int64("conflicting_job_id", admission.ConflictingJobID).
		Str("conflicting_source_job_id", admission.ConflictingSourceJobID).
		Str("date", admission.Date).
		Msg("job rejected by admission gate")
}

func logReport(ctx context.Context, report *entities.Report) {
	c := report.Counts
	observability.LoggerFromContext(ctx).Info().
		Int64("job_id", report.Job.ID).
		Int("total_expected", c.Total.Expected).
		Int("total_inserted", c.Total.Inserted).
		Int("procedures_inserted", c.Procedures.Inserted).
		Int("institutions_inserted", c.Institutions.Inserted).
		Int("max_allowed_days_inserted", c.MaxAllowedDays.Inserted).
		Int("waiting_periods_inserted", c.WaitingPeriods.Inserted).
		Strs("created_procedures", report.CreatedProcedures).
		Strs("created_institutions", report.CreatedInstitutions).
		Msg("ingested job")
}
