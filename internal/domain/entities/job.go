package entities

import (
	"time"
)

// Job is one execution of the upstream scrape
type Job struct {
	ID          int64     `json:"id" db:"id"`
	SourceJobID string    `json:"source_job_id" db:"git_lab_job_id"`
	StartDate   time.Time `json:"start_date" db:"start_date"`
	EndDate     time.Time `json:"end_date" db:"end_date"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// SourceJob is what job discovery reports about a finished CI job
type SourceJob struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	FinishedAt time.Time `json:"finished_at"`
}

// SourceJobPage is one page of discovered jobs
type SourceJobPage struct {
	Jobs        []SourceJob `json:"jobs"`
	EndCursor   string      `json:"end_cursor"`
	HasNextPage bool        `json:"has_next_page"`
}
