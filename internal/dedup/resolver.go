// Package dedup classifies incoming rows as new or duplicates of known
// records.
package dedup

import (
	"strings"

	"github.com/edusys/bulkimport/internal/domain"
)

// keySeparator joins match key parts. The unit separator cannot appear in
// cell data, so composite keys never collide with single-part keys.
const keySeparator = "\x1f"

// Key builds a normalized match key from its parts. Store adapters must use
// the same function so file-side and store-side keys compare equal.
func Key(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = domain.NormalizeKey(p)
	}
	return strings.Join(normalized, keySeparator)
}

// SplitKey splits a key built by Key back into its normalized parts, so store
// adapters can filter on each match key column separately.
func SplitKey(key string) []string {
	return strings.Split(key, keySeparator)
}

// Classification is the outcome of classifying one record.
type Classification struct {
	Duplicate  bool
	ExistingID string
}

// Resolver holds the job-scoped duplicate index: the pre-existing records
// fetched once from the store, plus the rows already staged by this run.
// Staging makes the second and later occurrences of a match key inside one
// file classify against the first occurrence, not only against the store —
// the "earlier row in the same file wins" rule. Callers must serialize
// Classify and Stage; the executor does so on its apply goroutine.
type Resolver struct {
	matchFields []string
	existing    map[string]string
	staged      map[string]string
}

// NewResolver builds a resolver over the store's existing index (match key to
// record id).
func NewResolver(matchFields []string, existing map[string]string) *Resolver {
	if existing == nil {
		existing = map[string]string{}
	}
	return &Resolver{
		matchFields: matchFields,
		existing:    existing,
		staged:      make(map[string]string),
	}
}

// KeyFor derives the record's match key from its match fields. Fields absent
// from the record contribute an empty part.
func (r *Resolver) KeyFor(record domain.Record) string {
	parts := make([]string, len(r.matchFields))
	for i, name := range r.matchFields {
		if v, ok := record[name]; ok {
			parts[i] = v.String()
		}
	}
	return Key(parts...)
}

// Classify resolves the record against rows staged earlier in this run first,
// then against the pre-existing store index. An entity without match fields
// has no duplicate notion; every record classifies as new.
func (r *Resolver) Classify(record domain.Record) Classification {
	if len(r.matchFields) == 0 {
		return Classification{}
	}
	key := r.KeyFor(record)
	if id, ok := r.staged[key]; ok {
		return Classification{Duplicate: true, ExistingID: id}
	}
	if id, ok := r.existing[key]; ok {
		return Classification{Duplicate: true, ExistingID: id}
	}
	return Classification{}
}

// Stage records that this run has applied a record under the given id, so
// later rows with the same match key classify as duplicates of it.
func (r *Resolver) Stage(record domain.Record, id string) {
	if len(r.matchFields) == 0 {
		return
	}
	r.staged[r.KeyFor(record)] = id
}
