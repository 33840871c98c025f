// Package validation executes the ordered per-row validation stages.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/edusys/bulkimport/internal/domain"
	"github.com/edusys/bulkimport/internal/lookup"
	"github.com/edusys/bulkimport/internal/schema"
)

// Engine validates rows against one entity schema. It is pure: it never
// mutates the store or the cache, so rows may be validated concurrently.
type Engine struct {
	schema  schema.EntitySchema
	mapping domain.ColumnMapping
	headers []string
	cache   *lookup.Cache

	patternsOnce sync.Once
	patterns     map[string]*regexp.Regexp
}

// NewEngine builds an engine for one job. The mapping must already be
// resolved; the cache must already be preloaded.
func NewEngine(es schema.EntitySchema, headers []string, mapping domain.ColumnMapping, cache *lookup.Cache) *Engine {
	return &Engine{schema: es, mapping: mapping, headers: headers, cache: cache}
}

// Validate runs the four stages over one row. Stages run in fixed order and a
// field that failed an earlier stage is skipped by later ones. The returned
// record is nil whenever any error was produced; such rows are terminal and
// never reach the duplicate resolver or the executor.
func (e *Engine) Validate(row domain.RawRow) (domain.Record, []domain.FieldError) {
	raws := e.rawValues(row)

	var errs []domain.FieldError
	failed := make(map[string]struct{})
	record := make(domain.Record)

	fail := func(field string, kind domain.ErrorKind, value, format string, args ...any) {
		failed[field] = struct{}{}
		errs = append(errs, domain.FieldError{
			Row:     row.Number,
			Field:   field,
			Kind:    kind,
			Message: fmt.Sprintf(format, args...),
			Value:   value,
		})
	}

	// Stage 1: presence.
	for _, field := range e.schema.Fields {
		if field.Required && raws[field.Name] == "" {
			fail(field.Name, domain.ErrMissingField, "", "required field is missing or blank")
		}
	}
	for _, req := range e.schema.OneOf {
		present := false
		for _, name := range req.Fields {
			if raws[name] != "" {
				present = true
				break
			}
		}
		if !present {
			fail(domain.CrossFieldName, domain.ErrMissingField, "", "%s", req.Message)
		}
	}

	// Stage 2: format and type coercion.
	for _, field := range e.schema.Fields {
		raw, ok := raws[field.Name]
		if !ok || raw == "" {
			continue
		}
		if _, bad := failed[field.Name]; bad {
			continue
		}

		normalized := normalizeValue(field, raw)
		value, err := coerce(field, normalized)
		if err != nil {
			fail(field.Name, domain.ErrFormatError, raw, "%v", err)
			continue
		}
		if field.Pattern != "" && !e.pattern(field).MatchString(normalized) {
			fail(field.Name, domain.ErrFormatError, raw, "value does not match the expected format")
			continue
		}
		if field.MaxLength > 0 && len(normalized) > field.MaxLength {
			fail(field.Name, domain.ErrFormatError, raw, "value exceeds %d characters", field.MaxLength)
			continue
		}
		if field.NonNegative && isNegative(value) {
			fail(field.Name, domain.ErrFormatError, raw, "value must not be negative")
			continue
		}
		record[field.Name] = value
	}

	// Stage 3: cross-field constraint groups. A group runs only when every
	// member present in the row passed stage 2 and at least two members are
	// present to compare.
	for _, group := range e.schema.Groups {
		if e.groupBlocked(group, raws, failed) {
			continue
		}
		var present []domain.Value
		for _, name := range group.Fields {
			if v, ok := record[name]; ok {
				present = append(present, v)
			}
		}
		if len(present) < 2 {
			continue
		}
		if !ordered(present, group.Rule) {
			fail(domain.CrossFieldName, domain.ErrBusinessRuleViolation, "", "%s", group.Message)
		}
	}

	// Stage 4: referential integrity, then compound references.
	for _, field := range e.schema.Fields {
		if field.Reference == nil {
			continue
		}
		value, ok := record[field.Name]
		if !ok {
			continue
		}
		if _, bad := failed[field.Name]; bad {
			continue
		}
		if !e.cache.Exists(*field.Reference, value.String()) {
			fail(field.Name, domain.ErrReferenceNotFound, value.String(),
				"no %s found with %s %q", field.Reference.Entity, field.Reference.Key, value.String())
		}
	}
	for _, cr := range e.schema.Compound {
		child, ok := e.schema.Field(cr.Field)
		if !ok || child.Reference == nil {
			continue
		}
		childVal, okChild := record[cr.Field]
		ownerVal, okOwner := record[cr.Owner]
		if !okChild || !okOwner {
			continue
		}
		if _, bad := failed[cr.Field]; bad {
			continue
		}
		attr, ok := e.cache.Attr(*child.Reference, childVal.String(), cr.Attr)
		if !ok {
			continue
		}
		if domain.NormalizeKey(attr) != domain.NormalizeKey(ownerVal.String()) {
			fail(cr.Field, domain.ErrBusinessRuleViolation, childVal.String(),
				"%s %s belongs to %s %s, not %s", child.Reference.Entity, childVal.String(), cr.Attr, attr, ownerVal.String())
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return record, nil
}

// rawValues projects the row's cells onto canonical field names through the
// resolved mapping, trimming whitespace. Missing trailing cells read as blank.
func (e *Engine) rawValues(row domain.RawRow) map[string]string {
	raws := make(map[string]string, len(e.headers))
	for i, header := range e.headers {
		field, ok := e.mapping.FieldFor(header)
		if !ok {
			continue
		}
		var cell string
		if i < len(row.Cells) {
			cell = strings.TrimSpace(row.Cells[i])
		}
		raws[field] = cell
	}
	return raws
}

// groupBlocked reports whether a member of the group is present in the row
// but failed an earlier stage.
func (e *Engine) groupBlocked(group schema.ConstraintGroup, raws map[string]string, failed map[string]struct{}) bool {
	for _, name := range group.Fields {
		if raws[name] == "" {
			continue
		}
		if _, bad := failed[name]; bad {
			return true
		}
	}
	return false
}

func (e *Engine) pattern(field domain.FieldDescriptor) *regexp.Regexp {
	e.patternsOnce.Do(func() {
		e.patterns = make(map[string]*regexp.Regexp)
		for _, f := range e.schema.Fields {
			if f.Pattern != "" {
				e.patterns[f.Name] = regexp.MustCompile(f.Pattern)
			}
		}
	})
	return e.patterns[field.Name]
}

func isNegative(v domain.Value) bool {
	switch v.Kind() {
	case domain.FieldKindInteger:
		return v.Int() < 0
	case domain.FieldKindDecimal:
		return v.Decimal() < 0
	default:
		return false
	}
}

// ordered checks that values ascend in declaration order under the group rule.
func ordered(values []domain.Value, rule schema.GroupRule) bool {
	for i := 1; i < len(values); i++ {
		cmp := compare(values[i-1], values[i])
		if rule == schema.GroupRuleStrictAscending && cmp >= 0 {
			return false
		}
		if rule == schema.GroupRuleAscending && cmp > 0 {
			return false
		}
	}
	return true
}

func compare(a, b domain.Value) int {
	switch a.Kind() {
	case domain.FieldKindInteger:
		switch {
		case a.Int() < b.Int():
			return -1
		case a.Int() > b.Int():
			return 1
		}
		return 0
	case domain.FieldKindDecimal:
		switch {
		case a.Decimal() < b.Decimal():
			return -1
		case a.Decimal() > b.Decimal():
			return 1
		}
		return 0
	case domain.FieldKindDate, domain.FieldKindDateTime, domain.FieldKindTime:
		switch {
		case a.Time().Before(b.Time()):
			return -1
		case a.Time().After(b.Time()):
			return 1
		}
		return 0
	default:
		return strings.Compare(a.String(), b.String())
	}
}
