package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Value is the tagged variant produced by stage-2 coercion. Downstream stages
// and the store adapter operate on this closed set of kinds rather than raw
// strings. The zero Value is invalid; use the constructors.
type Value struct {
	kind    FieldKind
	text    string
	integer int64
	decimal float64
	boolean bool
	instant time.Time
}

// TextValue wraps an already-normalized text value.
func TextValue(s string) Value { return Value{kind: FieldKindText, text: s} }

// EnumValue wraps a value canonicalized against its declared enum set.
func EnumValue(s string) Value { return Value{kind: FieldKindEnum, text: s} }

// IntegerValue wraps a parsed integer.
func IntegerValue(i int64) Value { return Value{kind: FieldKindInteger, integer: i} }

// DecimalValue wraps a parsed decimal.
func DecimalValue(f float64) Value { return Value{kind: FieldKindDecimal, decimal: f} }

// BooleanValue wraps a parsed boolean.
func BooleanValue(b bool) Value { return Value{kind: FieldKindBoolean, boolean: b} }

// DateValue wraps a calendar date (time component zeroed).
func DateValue(t time.Time) Value { return Value{kind: FieldKindDate, instant: t} }

// DateTimeValue wraps a timestamp.
func DateTimeValue(t time.Time) Value { return Value{kind: FieldKindDateTime, instant: t} }

// TimeValue wraps a time of day anchored on the zero date.
func TimeValue(t time.Time) Value { return Value{kind: FieldKindTime, instant: t} }

// Kind reports the variant tag.
func (v Value) Kind() FieldKind { return v.kind }

// Text returns the text payload for text and enum values.
func (v Value) Text() string { return v.text }

// Int returns the integer payload.
func (v Value) Int() int64 { return v.integer }

// Decimal returns the decimal payload.
func (v Value) Decimal() float64 { return v.decimal }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.boolean }

// Time returns the temporal payload for date, datetime, and time values.
func (v Value) Time() time.Time { return v.instant }

// String renders the value the way the store and the report serialize it.
func (v Value) String() string {
	switch v.kind {
	case FieldKindText, FieldKindEnum:
		return v.text
	case FieldKindInteger:
		return strconv.FormatInt(v.integer, 10)
	case FieldKindDecimal:
		return strconv.FormatFloat(v.decimal, 'f', -1, 64)
	case FieldKindBoolean:
		return strconv.FormatBool(v.boolean)
	case FieldKindDate:
		return v.instant.Format("2006-01-02")
	case FieldKindDateTime:
		return v.instant.Format("2006-01-02 15:04:05")
	case FieldKindTime:
		return v.instant.Format("15:04:05")
	default:
		return ""
	}
}

// Native returns the payload as the natural Go type for store adapters.
func (v Value) Native() any {
	switch v.kind {
	case FieldKindText, FieldKindEnum:
		return v.text
	case FieldKindInteger:
		return v.integer
	case FieldKindDecimal:
		return v.decimal
	case FieldKindBoolean:
		return v.boolean
	case FieldKindDate, FieldKindDateTime, FieldKindTime:
		return v.instant
	default:
		return nil
	}
}

// MarshalJSON serializes the payload as its natural JSON type. Temporal kinds
// use the same textual layouts as String so re-reading a report is stable.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case FieldKindText, FieldKindEnum, FieldKindDate, FieldKindDateTime, FieldKindTime:
		return json.Marshal(v.String())
	case FieldKindInteger:
		return json.Marshal(v.integer)
	case FieldKindDecimal:
		return json.Marshal(v.decimal)
	case FieldKindBoolean:
		return json.Marshal(v.boolean)
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %q", v.kind)
	}
}

// Record is the canonical form of one row after coercion: field name to typed
// value. Fields absent from the source row are absent from the record.
type Record map[string]Value
