package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportStatus is the terminal state of one recorded run.
type ImportStatus string

const (
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusPartial   ImportStatus = "partial"
	ImportStatusFailed    ImportStatus = "failed"
)

// ImportHistory captures one engine run for audit and observability. Recording
// is best-effort and never affects the run's outcome.
type ImportHistory struct {
	ID          uuid.UUID       `json:"id"`
	EntityType  string          `json:"entity_type"`
	FileName    string          `json:"file_name"`
	Policy      DuplicatePolicy `json:"policy"`
	TotalRows   int             `json:"total_rows"`
	Imported    int             `json:"imported"`
	Updated     int             `json:"updated"`
	Skipped     int             `json:"skipped"`
	Rejected    int             `json:"rejected"`
	Status      ImportStatus    `json:"status"`
	Actor       string          `json:"actor,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// HistoryFromReport derives the audit entry for a finished run.
func HistoryFromReport(job ImportJob, report ImportReport) ImportHistory {
	status := ImportStatusCompleted
	switch {
	case report.TotalRows > 0 && report.Rejected == report.TotalRows:
		status = ImportStatusFailed
	case report.Rejected > 0:
		status = ImportStatusPartial
	}
	now := time.Now()
	return ImportHistory{
		ID:          job.ID,
		EntityType:  job.EntityType,
		FileName:    job.FileName,
		Policy:      job.Policy,
		TotalRows:   report.TotalRows,
		Imported:    report.Imported,
		Updated:     report.Updated,
		Skipped:     report.Skipped,
		Rejected:    report.Rejected,
		Status:      status,
		Actor:       job.Actor,
		CreatedAt:   job.CreatedAt,
		CompletedAt: &now,
	}
}
