package domain

import "strings"

// FieldKind represents the data kind a canonical field holds after coercion.
type FieldKind string

const (
	FieldKindText     FieldKind = "text"
	FieldKindInteger  FieldKind = "integer"
	FieldKindDecimal  FieldKind = "decimal"
	FieldKindDate     FieldKind = "date"
	FieldKindDateTime FieldKind = "datetime"
	FieldKindTime     FieldKind = "time"
	FieldKindBoolean  FieldKind = "boolean"
	FieldKindEnum     FieldKind = "enum"
)

// NormalizeRule names a value normalization applied before format checks.
type NormalizeRule string

const (
	NormalizeNone  NormalizeRule = ""
	NormalizePhone NormalizeRule = "phone"
)

// ReferenceTarget names the entity and lookup key a reference field resolves
// against. Key is the stored column holding the lookup value, usually "id" or
// "name".
type ReferenceTarget struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
}

// FieldDescriptor describes one canonical field of an entity schema. Instances
// are built once by the schema registry and never mutated afterwards.
type FieldDescriptor struct {
	Name        string           `json:"name"`
	Kind        FieldKind        `json:"kind"`
	Required    bool             `json:"required"`
	MaxLength   int              `json:"maxLength,omitempty"`
	EnumValues  []string         `json:"enumValues,omitempty"`
	Reference   *ReferenceTarget `json:"reference,omitempty"`
	Group       string           `json:"group,omitempty"`
	Pattern     string           `json:"pattern,omitempty"`
	Normalize   NormalizeRule    `json:"normalize,omitempty"`
	NonNegative bool             `json:"nonNegative,omitempty"`
	// Immutable fields are never overwritten by the Update duplicate policy.
	// Match key members are always immutable.
	Immutable bool     `json:"immutable,omitempty"`
	Synonyms  []string `json:"synonyms,omitempty"`
}

// NormalizeKey canonicalizes a lookup or match key part for comparison:
// trimmed and lowercased so "Python Basics" and "python basics" resolve the
// same record.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ColumnMapping maps raw header labels to canonical field names. Headers that
// resolve to no field map to MappingSkip and are dropped silently.
type ColumnMapping map[string]string

// MappingSkip marks a raw header that maps to no canonical field.
const MappingSkip = "-"

// FieldFor returns the canonical field a raw header resolved to, or false when
// the header is skipped.
func (m ColumnMapping) FieldFor(rawHeader string) (string, bool) {
	field, ok := m[rawHeader]
	if !ok || field == MappingSkip {
		return "", false
	}
	return field, true
}
