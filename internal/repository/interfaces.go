package repository

import (
	"context"

	"github.com/edusys/bulkimport/internal/domain"
)

// ReferenceRow is one preloadable reference record: the surrogate id plus the
// foreign-key attributes that compound reference checks consult (for example a
// batch row carries its branch_id and course_id).
type ReferenceRow struct {
	ID    string
	Attrs map[string]string
}

// ExistingRecord identifies a stored record matched by its natural key.
type ExistingRecord struct {
	ID string
}

// RecordStore is the persistence contract the engine consumes. The core never
// issues raw queries; any storage technology satisfying these four operations
// is substitutable.
type RecordStore interface {
	// BulkFetchReference loads the id and attributes for every stored record
	// of the target entity whose lookup key is in keys. One call per target
	// per job, never one per row.
	BulkFetchReference(ctx context.Context, target domain.ReferenceTarget, keys []string) (map[string]ReferenceRow, error)
	// BulkFetchExisting loads stored records by normalized match key.
	BulkFetchExisting(ctx context.Context, entityType string, matchKeys []string) (map[string]ExistingRecord, error)
	// Create inserts a new record and returns its id.
	Create(ctx context.Context, entityType string, record domain.Record) (string, error)
	// Update overwrites the given fields of an existing record.
	Update(ctx context.Context, entityType string, id string, fields domain.Record) error
}

// ImportHistoryRepository stores run audit entries for observability.
type ImportHistoryRepository interface {
	Record(ctx context.Context, entry domain.ImportHistory) error
	List(ctx context.Context, entityType string, limit, offset int) ([]domain.ImportHistory, error)
}
