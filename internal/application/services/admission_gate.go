package services

import (
	"context"
	"time"

	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	"github.com/zatekoja/waitingtimes/internal/domain/repositories"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

const dateLayout = "2006-01-02"

// AdmissionGate refuses jobs whose source id or calendar day is already
// stored. It only reads.
type AdmissionGate struct {
	jobs     repositories.JobRepository
	location *time.Location
}

// NewAdmissionGate creates a gate that derives calendar days in location
func NewAdmissionGate(jobs repositories.JobRepository, location *time.Location) *AdmissionGate {
	if location == nil {
		location = time.UTC
	}
	return &AdmissionGate{jobs: jobs, location: location}
}

// CalendarDay returns the [from, to) bounds of the day t falls on
func (g *AdmissionGate) CalendarDay(t time.Time) (time.Time, time.Time) {
	local := t.In(g.location)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.location)
	return from, from.AddDate(0, 0, 1)
}

// Admit checks the source id first, then the calendar day of start
func (g *AdmissionGate) Admit(ctx context.Context, sourceJobID string, start time.Time) (*entities.Admission, error) {
	admission, err := g.CheckSourceJobID(ctx, sourceJobID)
	if err != nil || !admission.Admitted {
		if admission != nil {
			admission.Date = start.In(g.location).Format(dateLayout)
		}
		return admission, err
	}

	from, to := g.CalendarDay(start)
	admission.Date = from.Format(dateLayout)

	existing, err := g.jobs.FindStartedBetween(ctx, from, to)
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return admission, nil
	}
	if err != nil {
		return nil, err
	}

	admission.Admitted = false
	admission.Reason = entities.RejectedByDate
	admission.ConflictingJobID = existing.ID
	admission.ConflictingSourceJobID = existing.SourceJobID
	return admission, nil
}

// CheckSourceJobID is the id-only half of Admit, usable before the
// document has been downloaded
func (g *AdmissionGate) CheckSourceJobID(ctx context.Context, sourceJobID string) (*entities.Admission, error) {
	existing, err := g.jobs.FindBySourceJobID(ctx, sourceJobID)
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return &entities.Admission{Admitted: true}, nil
	}
	if err != nil {
		return nil, err
	}

	return &entities.Admission{
		Admitted:               false,
		Reason:                 entities.RejectedBySourceJobID,
		ConflictingJobID:       existing.ID,
		ConflictingSourceJobID: existing.SourceJobID,
	}, nil
}
