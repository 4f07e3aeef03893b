package services

import (
	"context"

	"github.com/zatekoja/waitingtimes/internal/domain/document"
	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

// DimensionLookup resolves natural keys of the shared dimension tables
type DimensionLookup interface {
	FindProcedureIDs(ctx context.Context, codes []string) (map[string]int64, error)
	FindInstitutionIDs(ctx context.Context, names []string) (map[string]int64, error)
}

// ProcedureRef points at a procedure by code. ID stays zero until the
// procedure has been inserted.
type ProcedureRef struct {
	Code string
	ID   int64
}

// InstitutionRef points at an institution by name. ID stays zero until the
// institution has been inserted.
type InstitutionRef struct {
	Name string
	ID   int64
}

// PlannedMaxAllowedDays is a max-allowed-days row awaiting its job id
type PlannedMaxAllowedDays struct {
	Procedure ProcedureRef
	Regular   int
	Fast      int
	VeryFast  int
}

// PlannedWaitingPeriod is a waiting-period row awaiting its job id
type PlannedWaitingPeriod struct {
	Institution InstitutionRef
	Procedure   ProcedureRef
	Regular     *int
	Fast        *int
	VeryFast    *int
}

// Plan is the minimal set of rows one job adds to the store. Procedures
// and institutions that already exist are referenced, never re-inserted.
type Plan struct {
	Job entities.Job

	ProceduresToInsert   []entities.Procedure
	InstitutionsToInsert []entities.Institution

	ExistingProcedures   map[string]int64
	ExistingInstitutions map[string]int64

	MaxAllowedDays []PlannedMaxAllowedDays
	WaitingPeriods []PlannedWaitingPeriod

	procedureNames map[string]string
}

// Reconciler diffs a record set against the stored dimension tables
type Reconciler struct {
	chunkSize int
}

// NewReconciler creates a reconciler that looks keys up chunkSize at a time
func NewReconciler(chunkSize int) *Reconciler {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Reconciler{chunkSize: chunkSize}
}

// Plan builds the insertion plan for set. Every max-allowed-days and
// waiting-period record must reference a procedure and institution of the
// same set; otherwise it fails with an INTEGRITY error and plans nothing.
func (r *Reconciler) Plan(ctx context.Context, lookup DimensionLookup, sourceJobID string, set *document.RecordSet) (*Plan, error) {
	existingProcedures, err := lookupInChunks(ctx, set.ProcedureCodes(), r.chunkSize, lookup.FindProcedureIDs)
	if err != nil {
		return nil, err
	}
	existingInstitutions, err := lookupInChunks(ctx, set.Institutions, r.chunkSize, lookup.FindInstitutionIDs)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Job: entities.Job{
			SourceJobID: sourceJobID,
			StartDate:   set.Start,
			EndDate:     set.End,
		},
		ExistingProcedures:   existingProcedures,
		ExistingInstitutions: existingInstitutions,
		procedureNames:       make(map[string]string, len(set.Procedures)),
	}

	known := make(map[string]int64, len(set.Procedures))
	for _, p := range set.Procedures {
		plan.procedureNames[p.Code] = p.Name
		if id, ok := existingProcedures[p.Code]; ok {
			known[p.Code] = id
			continue
		}
		known[p.Code] = 0
		plan.ProceduresToInsert = append(plan.ProceduresToInsert, entities.Procedure{Code: p.Code, Name: p.Name})
	}

	knownInstitutions := make(map[string]int64, len(set.Institutions))
	for _, name := range set.Institutions {
		if id, ok := existingInstitutions[name]; ok {
			knownInstitutions[name] = id
			continue
		}
		knownInstitutions[name] = 0
		plan.InstitutionsToInsert = append(plan.InstitutionsToInsert, entities.Institution{Name: name})
	}

	for _, m := range set.MaxAllowedDays {
		id, ok := known[m.ProcedureCode]
		if !ok {
			return nil, apperrors.NewReferentialIntegrityError("procedure", m.ProcedureCode)
		}
		plan.MaxAllowedDays = append(plan.MaxAllowedDays, PlannedMaxAllowedDays{
			Procedure: ProcedureRef{Code: m.ProcedureCode, ID: id},
			Regular:   m.Regular,
			Fast:      m.Fast,
			VeryFast:  m.VeryFast,
		})
	}

	for _, w := range set.WaitingPeriodList() {
		procedureID, ok := known[w.ProcedureCode]
		if !ok {
			return nil, apperrors.NewReferentialIntegrityError("procedure", w.ProcedureCode)
		}
		institutionID, ok := knownInstitutions[w.Facility]
		if !ok {
			return nil, apperrors.NewReferentialIntegrityError("institution", w.Facility)
		}
		plan.WaitingPeriods = append(plan.WaitingPeriods, PlannedWaitingPeriod{
			Institution: InstitutionRef{Name: w.Facility, ID: institutionID},
			Procedure:   ProcedureRef{Code: w.ProcedureCode, ID: procedureID},
			Regular:     w.Regular,
			Fast:        w.Fast,
			VeryFast:    w.VeryFast,
		})
	}

	return plan, nil
}

// ExistingProcedureNames lists the names of procedures that were already stored
func (p *Plan) ExistingProcedureNames() []string {
	names := make([]string, 0, len(p.ExistingProcedures))
	for code := range p.procedureNames {
		if _, ok := p.ExistingProcedures[code]; ok {
			names = append(names, p.procedureNames[code])
		}
	}
	return sortedCopy(names)
}
