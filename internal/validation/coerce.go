package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/edusys/bulkimport/internal/domain"
)

// Accepted textual layouts. Day-first forms come first because that is what
// the upstream data uses; ISO forms are accepted as the canonical fallback.
var (
	dateLayouts = []string{
		"02-01-2006",
		"02/01/2006",
		"02.01.2006",
		"2006-01-02",
	}

	dateTimeLayouts = []string{
		"02-01-2006 3:04 PM",
		"02/01/2006 3:04 PM",
		"02.01.2006 3:04 PM",
		"02-01-2006 3:04PM",
		"02-01-2006 15:04",
		"02/01/2006 15:04",
		"02.01.2006 15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"02-01-2006",
		"02/01/2006",
	}

	timeLayouts = []string{
		"15:04:05",
		"15:04",
		"15.04",
		"3:04 PM",
		"3:04PM",
		"3.04 PM",
		"3.04PM",
		"3 PM",
		"3PM",
	}
)

// coerce parses a normalized raw string into the field's declared kind.
func coerce(field domain.FieldDescriptor, raw string) (domain.Value, error) {
	switch field.Kind {
	case domain.FieldKindText:
		return domain.TextValue(raw), nil

	case domain.FieldKindInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return domain.IntegerValue(i), nil
		}
		// Spreadsheet exports often render integers as "42.0".
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return domain.IntegerValue(int64(f)), nil
		}
		return domain.Value{}, fmt.Errorf("%q is not a whole number", raw)

	case domain.FieldKindDecimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Value{}, fmt.Errorf("%q is not a number", raw)
		}
		return domain.DecimalValue(f), nil

	case domain.FieldKindBoolean:
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "y":
			return domain.BooleanValue(true), nil
		case "false", "0", "no", "n":
			return domain.BooleanValue(false), nil
		}
		return domain.Value{}, fmt.Errorf("%q is not a boolean (expected true/false, 1/0, or yes/no)", raw)

	case domain.FieldKindDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return domain.DateValue(t), nil
			}
		}
		return domain.Value{}, fmt.Errorf("%q is not a date (expected DD-MM-YYYY or YYYY-MM-DD)", raw)

	case domain.FieldKindDateTime:
		for _, layout := range dateTimeLayouts {
			if t, err := time.Parse(layout, normalizeMeridiem(raw)); err == nil {
				return domain.DateTimeValue(t), nil
			}
		}
		return domain.Value{}, fmt.Errorf("%q is not a date-time (expected DD-MM-YYYY HH:MM with optional AM/PM)", raw)

	case domain.FieldKindTime:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, normalizeMeridiem(raw)); err == nil {
				return domain.TimeValue(t), nil
			}
		}
		return domain.Value{}, fmt.Errorf("%q is not a time of day (expected HH:MM or HH:MM AM/PM)", raw)

	case domain.FieldKindEnum:
		for _, allowed := range field.EnumValues {
			if strings.EqualFold(raw, allowed) {
				return domain.EnumValue(allowed), nil
			}
		}
		return domain.Value{}, fmt.Errorf("%q is not one of: %s", raw, strings.Join(field.EnumValues, ", "))

	default:
		return domain.Value{}, fmt.Errorf("unknown field kind %q", field.Kind)
	}
}

// normalizeMeridiem uppercases am/pm suffixes so time.Parse accepts them.
func normalizeMeridiem(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasSuffix(lower, "am") || strings.HasSuffix(lower, "pm") {
		return raw[:len(raw)-2] + strings.ToUpper(raw[len(raw)-2:])
	}
	return raw
}

// NormalizeRaw applies a field's normalization rule to a trimmed raw cell
// value, before any coercion.
func NormalizeRaw(field domain.FieldDescriptor, raw string) string {
	return normalizeValue(field, strings.TrimSpace(raw))
}

// Canonical returns the comparison form of a raw cell: normalized and, when
// the cell parses as the field's kind, rendered back from the coerced value.
// "5.0" and "05" in an integer field both canonicalize to "5", matching what
// a stored column renders as text. Cells that fail coercion are returned
// normalized; they are rejected by validation before any key is used.
func Canonical(field domain.FieldDescriptor, raw string) string {
	normalized := NormalizeRaw(field, raw)
	if normalized == "" {
		return ""
	}
	if v, err := coerce(field, normalized); err == nil {
		return v.String()
	}
	return normalized
}

// normalizeValue applies the descriptor's normalization rule before any
// format check runs.
func normalizeValue(field domain.FieldDescriptor, raw string) string {
	switch field.Normalize {
	case domain.NormalizePhone:
		return normalizePhone(raw)
	default:
		return raw
	}
}

// normalizePhone strips separators and a leading country code 91 so numbers
// like "+91 98765-43210" compare as ten digits. Values that do not reduce to
// ten digits are left as given for the pattern check to reject.
func normalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()
	if len(cleaned) == 12 && strings.HasPrefix(cleaned, "91") {
		cleaned = cleaned[2:]
	}
	if len(cleaned) == 10 {
		return cleaned
	}
	return raw
}
