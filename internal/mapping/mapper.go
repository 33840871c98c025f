// Package mapping resolves uploaded column headers to canonical field names.
package mapping

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/edusys/bulkimport/internal/domain"
)

// Resolve maps each raw header to a canonical field or domain.MappingSkip.
// Resolution per header, in priority order: an explicit user override always
// wins; otherwise exact case-insensitive match on the canonical name, exact
// match on a declared synonym, then a normalized (punctuation and whitespace
// stripped) match against canonical names and finally against synonyms.
// Headers resolving to no field are skipped
// silently. Two headers resolving to the same field, or required fields left
// unmapped, are fatal job errors reported before any row is processed.
func Resolve(rawHeaders []string, fields []domain.FieldDescriptor, overrides map[string]string) (domain.ColumnMapping, error) {
	// Canonical names and synonyms resolve through separate maps so a
	// synonym declared on one field can never shadow another field's
	// canonical name.
	canonExact := make(map[string]string)
	canonNormalized := make(map[string]string)
	synExact := make(map[string]string)
	synNormalized := make(map[string]string)
	for _, f := range fields {
		canonExact[strings.ToLower(f.Name)] = f.Name
		canonNormalized[normalizeHeader(f.Name)] = f.Name
		for _, syn := range f.Synonyms {
			synExact[strings.ToLower(syn)] = f.Name
			synNormalized[normalizeHeader(syn)] = f.Name
		}
	}

	fieldNames := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		fieldNames[f.Name] = struct{}{}
	}

	mapping := make(domain.ColumnMapping, len(rawHeaders))
	claimedBy := make(map[string]string)

	for _, header := range rawHeaders {
		field := domain.MappingSkip

		if override, ok := lookupOverride(overrides, header); ok {
			if override != domain.MappingSkip {
				if _, known := fieldNames[override]; !known {
					return nil, fmt.Errorf("column override for %q names unknown field %q", header, override)
				}
				field = override
			}
		} else if resolved, ok := canonExact[strings.ToLower(strings.TrimSpace(header))]; ok {
			field = resolved
		} else if resolved, ok := synExact[strings.ToLower(strings.TrimSpace(header))]; ok {
			field = resolved
		} else if resolved, ok := canonNormalized[normalizeHeader(header)]; ok {
			field = resolved
		} else if resolved, ok := synNormalized[normalizeHeader(header)]; ok {
			field = resolved
		}

		if field != domain.MappingSkip {
			if prev, taken := claimedBy[field]; taken {
				err := domain.NewJobError(domain.JobErrAmbiguousMapping,
					"columns %q and %q both map to field %q", prev, header, field)
				err.Fields = []string{field}
				return nil, err
			}
			claimedBy[field] = header
		}
		mapping[header] = field
	}

	var missing []string
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if _, ok := claimedBy[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		err := domain.NewJobError(domain.JobErrMissingColumns,
			"required fields have no source column")
		err.Fields = missing
		return nil, err
	}

	return mapping, nil
}

func lookupOverride(overrides map[string]string, header string) (string, bool) {
	if len(overrides) == 0 {
		return "", false
	}
	if v, ok := overrides[header]; ok {
		return strings.TrimSpace(v), true
	}
	// Overrides supplied through forms often lose exact casing.
	for k, v := range overrides {
		if strings.EqualFold(strings.TrimSpace(k), strings.TrimSpace(header)) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// normalizeHeader lowercases and strips whitespace and punctuation so labels
// like "Full Name" or "full-name" land on full_name.
func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
