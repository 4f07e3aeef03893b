package entities

// Count compares the rows a plan attempted to insert with the rows the
// store actually inserted. Concurrent writers can make Inserted lower.
type Count struct {
	Expected int `json:"expected"`
	Inserted int `json:"inserted"`
}

// Add accumulates another count
func (c *Count) Add(other Count) {
	c.Expected += other.Expected
	c.Inserted += other.Inserted
}

// Counts breaks the ingestion result down per entity type
type Counts struct {
	Total          Count `json:"total"`
	Jobs           Count `json:"jobs"`
	Procedures     Count `json:"procedures"`
	Institutions   Count `json:"institutions"`
	MaxAllowedDays Count `json:"maxAllowedDays"`
	WaitingPeriods Count `json:"waitingPeriods"`
}

// ReportJob identifies the ingested job
type ReportJob struct {
	ID          int64  `json:"id"`
	SourceJobID string `json:"sourceJobId"`
}

// Report summarizes one successful ingestion
type Report struct {
	Job    ReportJob `json:"job"`
	Counts Counts    `json:"counts"`

	CreatedProcedures    []string `json:"createdProcedures"`
	ExistingProcedures   []string `json:"existingProcedures"`
	CreatedInstitutions  []string `json:"createdInstitutions"`
	ExistingInstitutions []string `json:"existingInstitutions"`
}

// RejectionReason says which key made the admission gate refuse a job
type RejectionReason string

const (
	RejectedBySourceJobID RejectionReason = "source_job_id"
	RejectedByDate        RejectionReason = "date"
)

// Admission is the admission gate's verdict. A refusal is a normal
// outcome, not an error.
type Admission struct {
	Admitted               bool            `json:"admitted"`
	Reason                 RejectionReason `json:"reason,omitempty"`
	ConflictingJobID       int64           `json:"conflictingJobId,omitempty"`
	ConflictingSourceJobID string          `json:"conflictingSourceJobId,omitempty"`
	Date                   string          `json:"date"`
}

// Outcome is the result of a single-job ingestion: either a report or a
// rejection.
type Outcome struct {
	Report    *Report    `json:"report,omitempty"`
	Rejection *Admission `json:"rejection,omitempty"`
}

// Ingested reports whether the job was written
func (o *Outcome) Ingested() bool {
	return o != nil && o.Report != nil
}

// SeedStage names where a bulk seed file failed
type SeedStage string

const (
	SeedStageRead     SeedStage = "read"
	SeedStageValidate SeedStage = "validate"
	SeedStageWrite    SeedStage = "write"
)

// SeedFailure records one file the bulk seeder could not ingest
type SeedFailure struct {
	File        string    `json:"file"`
	SourceJobID string    `json:"sourceJobId"`
	Stage       SeedStage `json:"stage"`
	Error       string    `json:"error"`
}

// SeedSkip records one file the admission gate refused
type SeedSkip struct {
	File      string    `json:"file"`
	Admission Admission `json:"admission"`
}

// BatchReport summarizes a bulk seed run
type BatchReport struct {
	Files    int           `json:"files"`
	Wiped    bool          `json:"wiped"`
	Reports  []Report      `json:"reports"`
	Skipped  []SeedSkip    `json:"skipped"`
	Failures []SeedFailure `json:"failures"`
	Counts   Counts        `json:"counts"`
}
