package s7

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/plc-monitor/internal/series"
)

// Byte widths of the built-in S7 types.
const (
	widthReal32 = 4
	widthInt16  = 2
	widthDInt32 = 4
	widthBool   = 1

	// maxBit is the highest bit index within a byte.
	maxBit = 7
)

// Decoder turns the raw bytes of a block read into a value.
type Decoder func(raw []byte) (series.Value, error)

// typeKind enumerates the DataType variants.
type typeKind uint8

const (
	kindInvalid typeKind = iota
	kindReal32
	kindInt16
	kindDInt32
	kindBool
	kindCustom
)

// DataType is the closed set of ways a signal can be decoded:
// Real32, Int16, DInt32, Bool, or a Custom decoder.
//
// The zero DataType is invalid and rejected by Signal.Validate.
type DataType struct {
	kind   typeKind
	name   string
	width  int
	decode Decoder
}

// Built-in data types.
var (
	// Real32 is a 4-byte IEEE-754 float (S7 REAL).
	Real32 = DataType{kind: kindReal32, name: "real", width: widthReal32}

	// Int16 is a 2-byte signed integer (S7 INT).
	Int16 = DataType{kind: kindInt16, name: "int", width: widthInt16}

	// DInt32 is a 4-byte signed integer (S7 DINT).
	DInt32 = DataType{kind: kindDInt32, name: "dint", width: widthDInt32}

	// Bool is a single bit of the first byte (S7 BOOL).
	Bool = DataType{kind: kindBool, name: "bool", width: widthBool}
)

// Custom returns a DataType backed by decode. width is the minimum number
// of bytes the decoder needs.
func Custom(name string, width int, decode Decoder) DataType {
	return DataType{kind: kindCustom, name: name, width: width, decode: decode}
}

// String returns the type name as used in configuration.
func (t DataType) String() string {
	if t.kind == kindInvalid {
		return "invalid"
	}
	return t.name
}

// Width returns the minimum read length for the type.
func (t DataType) Width() int {
	return t.width
}

// IsCustom reports whether the type uses a custom decoder.
func (t DataType) IsCustom() bool {
	return t.kind == kindCustom
}

// valid reports whether t is one of the supported variants.
func (t DataType) valid() bool {
	switch t.kind {
	case kindReal32, kindInt16, kindDInt32, kindBool:
		return true
	case kindCustom:
		return t.decode != nil
	default:
		return false
	}
}

// Decode decodes raw using the type's byte layout. bit selects the bit for
// Bool and is ignored otherwise.
//
// Panics raised by custom decoders are recovered and returned as ErrDecodeFailed.
func (t DataType) Decode(raw []byte, bit int) (v series.Value, err error) {
	switch t.kind {
	case kindReal32:
		if len(raw) < widthReal32 {
			return series.Value{}, shortBuffer("REAL", widthReal32, len(raw))
		}
		return series.Float(float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))), nil

	case kindInt16:
		if len(raw) < widthInt16 {
			return series.Value{}, shortBuffer("INT", widthInt16, len(raw))
		}
		return series.Int(int64(int16(binary.BigEndian.Uint16(raw)))), nil //nolint:gosec // two's complement reinterpretation

	case kindDInt32:
		if len(raw) < widthDInt32 {
			return series.Value{}, shortBuffer("DINT", widthDInt32, len(raw))
		}
		return series.Int(int64(int32(binary.BigEndian.Uint32(raw)))), nil //nolint:gosec // two's complement reinterpretation

	case kindBool:
		if len(raw) < widthBool {
			return series.Value{}, shortBuffer("BOOL", widthBool, len(raw))
		}
		if bit < 0 || bit > maxBit {
			return series.Value{}, fmt.Errorf("%w: bit index %d out of range 0-%d", ErrDecodeFailed, bit, maxBit)
		}
		return series.Bool(raw[0]&(1<<uint(bit)) != 0), nil

	case kindCustom:
		if t.decode == nil {
			return series.Value{}, fmt.Errorf("%w: custom type %q has no decoder", ErrUnsupportedType, t.name)
		}
		if len(raw) < t.width {
			return series.Value{}, shortBuffer(t.name, t.width, len(raw))
		}
		defer func() {
			if r := recover(); r != nil {
				v = series.Value{}
				err = fmt.Errorf("%w: decoder %q panicked: %v", ErrDecodeFailed, t.name, r)
			}
		}()
		v, err = t.decode(raw)
		if err != nil {
			return series.Value{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
		}
		if !v.IsValid() {
			return series.Value{}, fmt.Errorf("%w: decoder %q returned no value", ErrDecodeFailed, t.name)
		}
		return v, nil

	default:
		return series.Value{}, ErrUnsupportedType
	}
}

func shortBuffer(name string, want, got int) error {
	return fmt.Errorf("%w: %s requires %d bytes, got %d", ErrDecodeFailed, name, want, got)
}

// Signal describes one value to sample from a device: where it lives in
// the PLC's memory and how to decode it. Signals are immutable once built.
type Signal struct {
	// Name is unique within the device and must not contain '.'.
	Name string

	// DB is the data block number.
	DB int

	// Offset is the start byte within the block.
	Offset int

	// Length is the number of bytes to read.
	Length int

	// Type selects the decoding.
	Type DataType

	// Bit is the bit index for Bool signals (0-7).
	Bit int
}

// Validate checks the signal definition.
func (s Signal) Validate() error {
	if errs := s.problems(); len(errs) > 0 {
		return fmt.Errorf("%w: signal %q: %s", ErrInvalidConfig, s.Name, strings.Join(errs, "; "))
	}
	return nil
}

func (s Signal) problems() []string {
	var errs []string

	if s.Name == "" {
		errs = append(errs, "name is required")
	} else if strings.Contains(s.Name, ".") {
		errs = append(errs, fmt.Sprintf("name %q must not contain '.'", s.Name))
	}
	if s.DB < 1 {
		errs = append(errs, fmt.Sprintf("db must be >= 1, got %d", s.DB))
	}
	if s.Offset < 0 {
		errs = append(errs, fmt.Sprintf("offset must be >= 0, got %d", s.Offset))
	}
	if !s.Type.valid() {
		errs = append(errs, fmt.Sprintf("unsupported type %q", s.Type))
	} else if s.Length < s.Type.Width() {
		errs = append(errs, fmt.Sprintf("length %d is shorter than %s width %d", s.Length, s.Type, s.Type.Width()))
	}
	if s.Bit < 0 || s.Bit > maxBit {
		errs = append(errs, fmt.Sprintf("bit must be 0-%d, got %d", maxBit, s.Bit))
	}
	return errs
}

// Decode decodes a raw block read for this signal.
func (s Signal) Decode(raw []byte) (series.Value, error) {
	return s.Type.Decode(raw, s.Bit)
}

// Decoders maps configuration names to custom data types.
type Decoders map[string]DataType

// DefaultDecoders returns the built-in named custom decoders:
//
//   - "byte":   1-byte unsigned (S7 BYTE)
//   - "uint16": 2-byte unsigned big-endian (S7 WORD)
//   - "uint32": 4-byte unsigned big-endian (S7 DWORD)
//   - "lreal":  8-byte IEEE-754 float (S7 LREAL)
func DefaultDecoders() Decoders {
	return Decoders{
		"byte": Custom("byte", 1, func(raw []byte) (series.Value, error) {
			return series.Int(int64(raw[0])), nil
		}),
		"uint16": Custom("uint16", 2, func(raw []byte) (series.Value, error) {
			return series.Int(int64(binary.BigEndian.Uint16(raw))), nil
		}),
		"uint32": Custom("uint32", 4, func(raw []byte) (series.Value, error) {
			return series.Int(int64(binary.BigEndian.Uint32(raw))), nil
		}),
		"lreal": Custom("lreal", 8, func(raw []byte) (series.Value, error) {
			return series.Float(math.Float64frombits(binary.BigEndian.Uint64(raw))), nil
		}),
	}
}

// ParseDataType resolves a configuration type name. "custom" takes the
// decoder name from decoder and looks it up in decoders.
func ParseDataType(name, decoder string, decoders Decoders) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "real", "real32", "float":
		return Real32, nil
	case "int", "int16":
		return Int16, nil
	case "dint", "dint32", "int32":
		return DInt32, nil
	case "bool", "bit":
		return Bool, nil
	case "custom":
		if decoder == "" {
			return DataType{}, fmt.Errorf("%w: type custom requires a decoder name", ErrUnsupportedType)
		}
		if dt, ok := decoders[decoder]; ok {
			return dt, nil
		}
		return DataType{}, fmt.Errorf("%w: unknown decoder %q", ErrUnsupportedType, decoder)
	default:
		return DataType{}, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
	}
}
