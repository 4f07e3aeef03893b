package providers

import (
	"context"

	"github.com/zatekoja/waitingtimes/internal/domain/entities"
)

// JobSource discovers finished scrape jobs and downloads their artifacts
type JobSource interface {
	// ListJobs returns up to first most recent jobs, starting after the
	// given pagination cursor when it is non-empty
	ListJobs(ctx context.Context, first int, after string) (*entities.SourceJobPage, error)

	// FetchArtifact downloads the scrape document produced by a job
	FetchArtifact(ctx context.Context, jobID string) ([]byte, error)
}
