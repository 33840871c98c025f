package domain

// ErrorKind classifies a single validation failure.
type ErrorKind string

const (
	ErrMissingField          ErrorKind = "MissingField"
	ErrFormatError           ErrorKind = "FormatError"
	ErrReferenceNotFound     ErrorKind = "ReferenceNotFound"
	ErrBusinessRuleViolation ErrorKind = "BusinessRuleViolation"
	ErrDuplicateConflict     ErrorKind = "DuplicateConflict"
	ErrSystemError           ErrorKind = "SystemError"
)

// CrossFieldName is the field name used for errors that belong to the whole
// row rather than a single field.
const CrossFieldName = "row"

// FieldError is one validation failure. Created during validation, never
// mutated.
type FieldError struct {
	Row     int       `json:"row"`
	Field   string    `json:"field"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Value   string    `json:"value,omitempty"`
}

// Disposition is the terminal classification of one row within a report.
type Disposition string

const (
	DispositionImported Disposition = "Imported"
	DispositionUpdated  Disposition = "Updated"
	DispositionSkipped  Disposition = "Skipped"
	DispositionRejected Disposition = "Rejected"
)

// RowOutcome is the per-row result. Record is present only for Imported and
// Updated rows.
type RowOutcome struct {
	Row         int          `json:"row"`
	Disposition Disposition  `json:"disposition"`
	Errors      []FieldError `json:"errors,omitempty"`
	Record      Record       `json:"record,omitempty"`
}

// ImportReport is the aggregate, immutable result of one job. Every row
// number 1..TotalRows appears in exactly one outcome; the four counts always
// sum to TotalRows regardless of error truncation.
type ImportReport struct {
	EntityType string       `json:"entityType"`
	TotalRows  int          `json:"totalRows"`
	Imported   int          `json:"imported"`
	Updated    int          `json:"updated"`
	Skipped    int          `json:"skipped"`
	Rejected   int          `json:"rejected"`
	Rows       []RowOutcome `json:"rows"`
	Truncated  bool         `json:"truncated"`
}
