package schema

import (
	"fmt"
	"sort"

	"github.com/edusys/bulkimport/internal/domain"
)

// GroupRule selects how a cross-field constraint group is evaluated.
type GroupRule string

const (
	// GroupRuleStrictAscending requires each member value to be strictly less
	// than the next, in declaration order (start date before end date).
	GroupRuleStrictAscending GroupRule = "strict_ascending"
	// GroupRuleAscending allows equal adjacent values (min size <= max size).
	GroupRuleAscending GroupRule = "ascending"
)

// ConstraintGroup ties fields together for cross-field validation. The group
// is evaluated only when every member passed coercion.
type ConstraintGroup struct {
	ID      string
	Fields  []string
	Rule    GroupRule
	Message string
}

// CompoundReference declares that the record referenced by Field must carry
// Attr equal to the row's Owner value. Example: the batch referenced by
// batch_id must belong to the branch named in branch_id.
type CompoundReference struct {
	Field string
	Owner string
	Attr  string
}

// OneOfRequirement requires at least one of Fields to be present in a row,
// for entities where no single column is mandatory but one of a set is.
type OneOfRequirement struct {
	Fields  []string
	Message string
}

// EntitySchema is the full static description of one importable entity type.
// An empty MatchKey disables duplicate detection: every valid row is applied
// as a new record.
type EntitySchema struct {
	Name     string
	Fields   []domain.FieldDescriptor
	MatchKey []string
	Groups   []ConstraintGroup
	Compound []CompoundReference
	OneOf    []OneOfRequirement
}

// Field returns the descriptor for a canonical field name.
func (es EntitySchema) Field(name string) (domain.FieldDescriptor, bool) {
	for _, f := range es.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return domain.FieldDescriptor{}, false
}

// ReferenceTargets returns the distinct reference targets declared by the
// schema, in field declaration order.
func (es EntitySchema) ReferenceTargets() []domain.ReferenceTarget {
	var targets []domain.ReferenceTarget
	seen := map[domain.ReferenceTarget]struct{}{}
	for _, f := range es.Fields {
		if f.Reference == nil {
			continue
		}
		if _, ok := seen[*f.Reference]; ok {
			continue
		}
		seen[*f.Reference] = struct{}{}
		targets = append(targets, *f.Reference)
	}
	return targets
}

// Registry is the explicitly constructed, read-only schema configuration
// passed into the engine. It is never a process-wide singleton so multi-entity
// variants stay testable in isolation.
type Registry struct {
	entities map[string]EntitySchema
}

// NewRegistry builds a registry from entity schemas. Match key members are
// forced immutable so the Update policy can never rewrite identity fields.
func NewRegistry(schemas ...EntitySchema) *Registry {
	reg := &Registry{entities: make(map[string]EntitySchema, len(schemas))}
	for _, es := range schemas {
		keyed := make(map[string]struct{}, len(es.MatchKey))
		for _, name := range es.MatchKey {
			keyed[name] = struct{}{}
		}
		fields := make([]domain.FieldDescriptor, len(es.Fields))
		copy(fields, es.Fields)
		for i := range fields {
			if _, ok := keyed[fields[i].Name]; ok {
				fields[i].Immutable = true
			}
		}
		es.Fields = fields
		reg.entities[es.Name] = es
	}
	return reg
}

// Entity returns the full schema for an entity type.
func (r *Registry) Entity(entityType string) (EntitySchema, error) {
	es, ok := r.entities[entityType]
	if !ok {
		return EntitySchema{}, domain.NewJobError(domain.JobErrUnknownEntity, "no schema registered for entity type %q", entityType)
	}
	return es, nil
}

// Describe returns the ordered field descriptors for an entity type.
func (r *Registry) Describe(entityType string) ([]domain.FieldDescriptor, error) {
	es, err := r.Entity(entityType)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FieldDescriptor, len(es.Fields))
	copy(out, es.Fields)
	return out, nil
}

// Entities lists the registered entity type names, sorted.
func (r *Registry) Entities() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithSynonyms returns a new registry whose named field carries additional
// header synonyms. Extends, never replaces, the defaults.
func (r *Registry) WithSynonyms(entityType, field string, synonyms ...string) (*Registry, error) {
	es, ok := r.entities[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	fields := make([]domain.FieldDescriptor, len(es.Fields))
	copy(fields, es.Fields)
	found := false
	for i := range fields {
		if fields[i].Name != field {
			continue
		}
		merged := make([]string, 0, len(fields[i].Synonyms)+len(synonyms))
		merged = append(merged, fields[i].Synonyms...)
		merged = append(merged, synonyms...)
		fields[i].Synonyms = merged
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("entity %q has no field %q", entityType, field)
	}

	clone := &Registry{entities: make(map[string]EntitySchema, len(r.entities))}
	for name, schema := range r.entities {
		clone.entities[name] = schema
	}
	es.Fields = fields
	clone.entities[entityType] = es
	return clone, nil
}
