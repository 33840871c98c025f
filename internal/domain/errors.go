package domain

import (
	"fmt"
	"strings"
)

// JobErrorCode identifies a fatal, job-level failure. Job errors abort before
// any row is processed; no report is produced.
type JobErrorCode string

const (
	JobErrUnknownEntity    JobErrorCode = "unknown_entity"
	JobErrAmbiguousMapping JobErrorCode = "ambiguous_mapping"
	JobErrMissingColumns   JobErrorCode = "missing_columns"
	JobErrPreloadTimeout   JobErrorCode = "preload_timeout"
)

// JobError is the structured failure returned for fatal configuration or
// preload problems.
type JobError struct {
	Code    JobErrorCode `json:"code"`
	Message string       `json:"message"`
	Fields  []string     `json:"fields,omitempty"`
}

func (e *JobError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(e.Fields, ", "))
}

// NewJobError builds a fatal job failure.
func NewJobError(code JobErrorCode, format string, args ...any) *JobError {
	return &JobError{Code: code, Message: fmt.Sprintf(format, args...)}
}
