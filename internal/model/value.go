// Package model defines the data shapes shared across the engine: the
// dynamically-typed Row produced by adapters and consumed by the writer, and
// the persistent entities that track ingestion state.
package model

import (
	"fmt"
	"time"
)

// Kind identifies the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindNumber
	KindText
	KindBoolean
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the scalar types an adapter can emit for a
// single cell. Only one of the typed fields is meaningful, selected by Kind.
// Adapters never emit raw Go interface{} values to the writer; they build
// Values explicitly so the provisioner and writer can agree on SQL types
// without reflection.
type Value struct {
	kind Kind
	i    int64
	n    float64
	s    string
	b    bool
	t    time.Time
}

// Null returns a NULL value.
func Null() Value { return Value{kind: KindNull} }

// Integer wraps an int64.
func Integer(v int64) Value { return Value{kind: KindInteger, i: v} }

// Number wraps a float64.
func Number(v float64) Value { return Value{kind: KindNumber, n: v} }

// Text wraps a string.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Boolean wraps a bool.
func Boolean(v bool) Value { return Value{kind: KindBoolean, b: v} }

// Timestamp wraps a time.Time, normalized to UTC.
func Timestamp(v time.Time) Value { return Value{kind: KindTimestamp, t: v.UTC()} }

// Kind reports the value's dynamic type.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int returns the integer payload; ok is false if Kind is not KindInteger.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInteger }

// Float returns the numeric payload; ok is false if Kind is not KindNumber.
func (v Value) Float() (float64, bool) { return v.n, v.kind == KindNumber }

// String returns the text payload; ok is false if Kind is not KindText.
func (v Value) String() (string, bool) { return v.s, v.kind == KindText }

// Bool returns the boolean payload; ok is false if Kind is not KindBoolean.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBoolean }

// Time returns the timestamp payload; ok is false if Kind is not KindTimestamp.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindTimestamp }

// Native returns the value as a plain Go value suitable for passing to a
// database/sql driver argument list.
func (v Value) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindInteger:
		return v.i
	case KindNumber:
		return v.n
	case KindText:
		return v.s
	case KindBoolean:
		return v.b
	case KindTimestamp:
		return v.t
	default:
		return nil
	}
}

// GoString renders the value for debug logging.
func (v Value) GoString() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return fmt.Sprintf("%v", v.Native())
}

// FromNative converts a plain Go scalar (as produced by an encoding/json
// unmarshal or a gjson traversal) into a Value. It is the single funnel
// point where untyped data enters the engine's typed representation.
func FromNative(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Boolean(t)
	case int:
		return Integer(int64(t))
	case int32:
		return Integer(int64(t))
	case int64:
		return Integer(t)
	case float32:
		return numberOrInteger(float64(t))
	case float64:
		return numberOrInteger(t)
	case string:
		return Text(t)
	case time.Time:
		return Timestamp(t)
	default:
		return Text(fmt.Sprintf("%v", t))
	}
}

// numberOrInteger narrows a float64 to an Integer value when it carries no
// fractional part, matching how JSON numbers without a decimal point are
// typically meant to be stored.
func numberOrInteger(f float64) Value {
	if f == float64(int64(f)) {
		return Integer(int64(f))
	}
	return Number(f)
}

// Row is one record produced by a Source Adapter's parse stage and consumed
// by the Batch Writer. Keys are the adapter's raw field names prior to
// identifier normalization, which the Table Provisioner applies.
type Row map[string]Value
