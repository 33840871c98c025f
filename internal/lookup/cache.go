// Package lookup preloads reference-entity keys for one ingestion run.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/edusys/bulkimport/internal/domain"
	"github.com/edusys/bulkimport/internal/repository"
)

// TargetKeys pairs a reference target with the distinct raw key values the
// job's rows mention, so each target costs exactly one store query.
type TargetKeys struct {
	Target domain.ReferenceTarget
	Keys   []string
}

// Cache is the job-scoped, read-only preload of reference records. It never
// observes writes made by the same job.
type Cache struct {
	targets map[domain.ReferenceTarget]map[string]repository.ReferenceRow
}

// Preload bulk-reads every requested target from the store. A target naming
// the entity type being imported is rejected up front: the cache cannot see
// rows staged earlier in the same job, so self-references would silently miss.
// A store error caused by the caller's deadline is reported as a fatal preload
// timeout; the job fails before any row is processed.
func Preload(ctx context.Context, store repository.RecordStore, entityType string, requests []TargetKeys) (*Cache, error) {
	cache := &Cache{targets: make(map[domain.ReferenceTarget]map[string]repository.ReferenceRow, len(requests))}
	for _, req := range requests {
		if req.Target.Entity == entityType {
			return nil, fmt.Errorf("reference target %q is the imported entity type; self-references are not supported", req.Target.Entity)
		}
		rows, err := store.BulkFetchReference(ctx, req.Target, req.Keys)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, domain.NewJobError(domain.JobErrPreloadTimeout,
					"reference preload for %s.%s timed out", req.Target.Entity, req.Target.Key)
			}
			return nil, fmt.Errorf("preload %s.%s: %w", req.Target.Entity, req.Target.Key, err)
		}
		normalized := make(map[string]repository.ReferenceRow, len(rows))
		for key, row := range rows {
			normalized[domain.NormalizeKey(key)] = row
		}
		cache.targets[req.Target] = normalized
	}
	return cache, nil
}

// Exists reports whether the target holds a record under key.
func (c *Cache) Exists(target domain.ReferenceTarget, key string) bool {
	_, ok := c.lookup(target, key)
	return ok
}

// ResolveID returns the stored id for a reference key.
func (c *Cache) ResolveID(target domain.ReferenceTarget, key string) (string, bool) {
	row, ok := c.lookup(target, key)
	if !ok {
		return "", false
	}
	return row.ID, true
}

// Attr returns a preloaded attribute of the referenced record, used by
// compound reference checks.
func (c *Cache) Attr(target domain.ReferenceTarget, key, attr string) (string, bool) {
	row, ok := c.lookup(target, key)
	if !ok {
		return "", false
	}
	v, ok := row.Attrs[attr]
	return v, ok
}

func (c *Cache) lookup(target domain.ReferenceTarget, key string) (repository.ReferenceRow, bool) {
	rows, ok := c.targets[target]
	if !ok {
		return repository.ReferenceRow{}, false
	}
	row, ok := rows[domain.NormalizeKey(key)]
	return row, ok
}
