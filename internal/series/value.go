package series

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

// Value kinds.
const (
	// KindFloat holds a floating point sample (REAL, LREAL).
	KindFloat Kind = iota + 1

	// KindInt holds a signed integer sample (INT, DINT, WORD...).
	KindInt

	// KindBool holds a single bit.
	KindBool
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a sampled process value. It is a closed variant over float,
// integer and boolean; the zero Value is invalid.
//
// Values are immutable and safe to copy.
type Value struct {
	kind Kind
	f    float64
	i    int64
	b    bool
}

// Float returns a floating point Value.
func Float(v float64) Value {
	return Value{kind: KindFloat, f: v}
}

// Int returns an integer Value.
func Int(v int64) Value {
	return Value{kind: KindInt, i: v}
}

// Bool returns a boolean Value.
func Bool(v bool) Value {
	return Value{kind: KindBool, b: v}
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind {
	return v.kind
}

// IsValid reports whether the value was built by one of the constructors.
func (v Value) IsValid() bool {
	return v.kind != 0
}

// Float64 returns the value as a float64. Booleans map to 0 and 1.
func (v Value) Float64() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return float64(v.i)
	case KindBool:
		if v.b {
			return 1
		}
	}
	return 0
}

// Int64 returns the integer payload, truncating floats.
func (v Value) Int64() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return int64(v.f)
	case KindBool:
		if v.b {
			return 1
		}
	}
	return 0
}

// Bool returns the boolean payload. Numeric values are true when non-zero.
func (v Value) Bool() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	}
	return false
}

// Any returns the payload as float64, int64 or bool (nil when invalid).
// Used where a library expects an untyped field value.
func (v Value) Any() any {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return v.i
	case KindBool:
		return v.b
	}
	return nil
}

// String formats the payload without type decoration.
func (v Value) String() string {
	switch v.kind {
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return "<invalid>"
}

// IsFinite reports whether the value is a number JSON and line protocol can
// carry. NaN and infinite floats report false; ints and bools are finite.
func (v Value) IsFinite() bool {
	if v.kind != KindFloat {
		return v.kind != 0
	}
	return !math.IsNaN(v.f) && !math.IsInf(v.f, 0)
}

// MarshalJSON encodes the bare payload (number or boolean).
// Invalid values and NaN or infinite floats encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsFinite() {
		return []byte("null"), nil
	}
	return json.Marshal(v.Any())
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	return v == o
}
