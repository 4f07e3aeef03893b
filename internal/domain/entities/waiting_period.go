package entities

import (
	"time"
)

// MaxAllowedDays holds the target maximum wait for a procedure in one job
type MaxAllowedDays struct {
	ID          int64     `json:"id" db:"id"`
	JobID       int64     `json:"job_id" db:"job_id"`
	ProcedureID int64     `json:"procedure_id" db:"procedure_id"`
	Regular     int       `json:"regular" db:"regular"`
	Fast        int       `json:"fast" db:"fast"`
	VeryFast    int       `json:"very_fast" db:"very_fast"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// WaitingPeriod holds the observed wait at one facility for one procedure in
// one job. A nil observation means none was recorded for that urgency.
type WaitingPeriod struct {
	JobID         int64     `json:"job_id" db:"job_id"`
	InstitutionID int64     `json:"institution_id" db:"institution_id"`
	ProcedureID   int64     `json:"procedure_id" db:"procedure_id"`
	Regular       *int      `json:"regular" db:"regular"`
	Fast          *int      `json:"fast" db:"fast"`
	VeryFast      *int      `json:"very_fast" db:"very_fast"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
