package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	"github.com/zatekoja/waitingtimes/internal/domain/repositories"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

// TransactionalWriter applies a plan through an open transaction. It never
// commits or rolls back itself; the store's RunInTx owns the boundary.
type TransactionalWriter struct {
	chunkSize int
}

// NewTransactionalWriter creates a writer that inserts chunkSize rows per statement
func NewTransactionalWriter(chunkSize int) *TransactionalWriter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &TransactionalWriter{chunkSize: chunkSize}
}

// Apply inserts the job, then new procedures and institutions, then the
// job-scoped facts that reference them.
func (w *TransactionalWriter) Apply(ctx context.Context, tx repositories.IngestionTx, plan *Plan) (*entities.Report, error) {
	report := &entities.Report{}

	job := plan.Job
	insertedJob, err := tx.InsertJob(ctx, &job)
	if err != nil {
		return nil, err
	}
	report.Job = entities.ReportJob{ID: job.ID, SourceJobID: job.SourceJobID}
	report.Counts.Jobs = entities.Count{Expected: 1, Inserted: boolToInt(insertedJob)}

	inserted, err := inChunks(ctx, plan.ProceduresToInsert, w.chunkSize, tx.InsertProcedures)
	if err != nil {
		return nil, err
	}
	report.Counts.Procedures = entities.Count{Expected: len(plan.ProceduresToInsert), Inserted: inserted}

	inserted, err = inChunks(ctx, plan.InstitutionsToInsert, w.chunkSize, tx.InsertInstitutions)
	if err != nil {
		return nil, err
	}
	report.Counts.Institutions = entities.Count{Expected: len(plan.InstitutionsToInsert), Inserted: inserted}

	procedureIDs, institutionIDs, err := w.resolveNew(ctx, tx, plan)
	if err != nil {
		return nil, err
	}

	mads := make([]entities.MaxAllowedDays, 0, len(plan.MaxAllowedDays))
	for _, m := range plan.MaxAllowedDays {
		procedureID, err := resolve("procedure", m.Procedure.Code, m.Procedure.ID, procedureIDs)
		if err != nil {
			return nil, err
		}
		mads = append(mads, entities.MaxAllowedDays{
			JobID:       job.ID,
			ProcedureID: procedureID,
			Regular:     m.Regular,
			Fast:        m.Fast,
			VeryFast:    m.VeryFast,
		})
	}

	wps := make([]entities.WaitingPeriod, 0, len(plan.WaitingPeriods))
	for _, wp := range plan.WaitingPeriods {
		procedureID, err := resolve("procedure", wp.Procedure.Code, wp.Procedure.ID, procedureIDs)
		if err != nil {
			return nil, err
		}
		institutionID, err := resolve("institution", wp.Institution.Name, wp.Institution.ID, institutionIDs)
		if err != nil {
			return nil, err
		}
		wps = append(wps, entities.WaitingPeriod{
			JobID:         job.ID,
			InstitutionID: institutionID,
			ProcedureID:   procedureID,
			Regular:       wp.Regular,
			Fast:          wp.Fast,
			VeryFast:      wp.VeryFast,
		})
	}

	inserted, err = inChunks(ctx, mads, w.chunkSize, tx.InsertMaxAllowedDays)
	if err != nil {
		return nil, err
	}
	report.Counts.MaxAllowedDays = entities.Count{Expected: len(mads), Inserted: inserted}

	inserted, err = inChunks(ctx, wps, w.chunkSize, tx.InsertWaitingPeriods)
	if err != nil {
		return nil, err
	}
	report.Counts.WaitingPeriods = entities.Count{Expected: len(wps), Inserted: inserted}

	report.Counts.Total = sumCounts(report.Counts)

	report.CreatedProcedures = make([]string, 0, len(plan.ProceduresToInsert))
	for _, p := range plan.ProceduresToInsert {
		report.CreatedProcedures = append(report.CreatedProcedures, p.Name)
	}
	report.ExistingProcedures = plan.ExistingProcedureNames()
	report.CreatedInstitutions = make([]string, 0, len(plan.InstitutionsToInsert))
	for _, inst := range plan.InstitutionsToInsert {
		report.CreatedInstitutions = append(report.CreatedInstitutions, inst.Name)
	}
	existing := make([]string, 0, len(plan.ExistingInstitutions))
	for name := range plan.ExistingInstitutions {
		existing = append(existing, name)
	}
	report.ExistingInstitutions = sortedCopy(existing)

	return report, nil
}

// resolveNew looks up the ids the store assigned to the procedures and
// institutions this plan inserted. Rows a concurrent writer inserted first
// resolve the same way.
func (w *TransactionalWriter) resolveNew(ctx context.Context, tx repositories.IngestionTx, plan *Plan) (map[string]int64, map[string]int64, error) {
	codes := make([]string, len(plan.ProceduresToInsert))
	for i, p := range plan.ProceduresToInsert {
		codes[i] = p.Code
	}
	procedureIDs, err := lookupInChunks(ctx, codes, w.chunkSize, tx.FindProcedureIDs)
	if err != nil {
		return nil, nil, err
	}
	// Procedure names are unique too. A new code carrying a name another
	// code already owns is ignored by the insert and never gets an id.
	for _, p := range plan.ProceduresToInsert {
		if _, ok := procedureIDs[p.Code]; !ok {
			return nil, nil, apperrors.NewConflictError(
				fmt.Sprintf("procedure %q was not stored: name %q belongs to another code", p.Code, p.Name))
		}
	}

	names := make([]string, len(plan.InstitutionsToInsert))
	for i, inst := range plan.InstitutionsToInsert {
		names[i] = inst.Name
	}
	institutionIDs, err := lookupInChunks(ctx, names, w.chunkSize, tx.FindInstitutionIDs)
	if err != nil {
		return nil, nil, err
	}

	return procedureIDs, institutionIDs, nil
}

func resolve(kind, key string, known int64, assigned map[string]int64) (int64, error) {
	if known != 0 {
		return known, nil
	}
	if id, ok := assigned[key]; ok {
		return id, nil
	}
	return 0, apperrors.NewReferentialIntegrityError(kind, key)
}

func sumCounts(c entities.Counts) entities.Count {
	var total entities.Count
	for _, part := range []entities.Count{c.Jobs, c.Procedures, c.Institutions, c.MaxAllowedDays, c.WaitingPeriods} {
		total.Add(part)
	}
	return total
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}
