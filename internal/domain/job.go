package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DuplicatePolicy selects the behavior when an incoming row collides with an
// existing or previously staged record.
type DuplicatePolicy string

const (
	DuplicateSkip   DuplicatePolicy = "skip"
	DuplicateUpdate DuplicatePolicy = "update"
	DuplicateError  DuplicatePolicy = "error"
)

// ParseDuplicatePolicy parses a policy name case-insensitively.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case DuplicateSkip:
		return DuplicateSkip, nil
	case DuplicateUpdate:
		return DuplicateUpdate, nil
	case DuplicateError:
		return DuplicateError, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", raw)
	}
}

// RawRow is one tokenized source row. Number is 1-based over the data rows and
// is preserved through to the report.
type RawRow struct {
	Number int
	Cells  []string
}

// ImportJob is one invocation of the engine. It is constructed when a file is
// accepted, consumed exactly once by the executor, and discarded once the
// report is produced; it carries no persistent identity.
type ImportJob struct {
	ID         uuid.UUID
	EntityType string
	Policy     DuplicatePolicy
	HeaderRow  []string
	Rows       []RawRow
	Mapping    ColumnMapping
	FileName   string
	Actor      string
	CreatedAt  time.Time
}

// NewImportJob wraps tokenized rows into a job, assigning 1-based row numbers.
func NewImportJob(entityType string, policy DuplicatePolicy, headerRow []string, rows [][]string, fileName, actor string) ImportJob {
	wrapped := make([]RawRow, len(rows))
	for i, cells := range rows {
		wrapped[i] = RawRow{Number: i + 1, Cells: cells}
	}
	return ImportJob{
		ID:         uuid.New(),
		EntityType: entityType,
		Policy:     policy,
		HeaderRow:  headerRow,
		Rows:       wrapped,
		FileName:   fileName,
		Actor:      actor,
		CreatedAt:  time.Now(),
	}
}
