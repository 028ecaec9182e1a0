package bridge

import (
	"github.com/woxQAQ/arena-bridge/internal/native"
)

// Element is the set of numeric types that can live in arena buffers.
type Element = native.Element

// ElementType identifies the element type of an arena buffer.
type ElementType uint8

const (
	// Unspecified means "infer from the value".
	Unspecified ElementType = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var elementNames = [...]string{
	Unspecified: "unspecified",
	Int8:        "int8",
	Uint8:       "uint8",
	Int16:       "int16",
	Uint16:      "uint16",
	Int32:       "int32",
	Uint32:      "uint32",
	Int64:       "int64",
	Uint64:      "uint64",
	Float32:     "float32",
	Float64:     "float64",
}

func (e ElementType) String() string {
	if int(e) < len(elementNames) {
		return elementNames[e]
	}
	return "invalid"
}

// Size returns the byte size of one element, or 0 for Unspecified.
func (e ElementType) Size() int {
	switch e {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether e names a concrete element type.
func (e ElementType) Valid() bool {
	return e.Size() > 0
}

// ElementTypeOf returns the element type of T.
func ElementTypeOf[T Element]() ElementType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case uint8:
		return Uint8
	case int16:
		return Int16
	case uint16:
		return Uint16
	case int32:
		return Int32
	case uint32:
		return Uint32
	case int64:
		return Int64
	case uint64:
		return Uint64
	case float32:
		return Float32
	default:
		return Float64
	}
}

// hostSlice describes a host slice of a supported element type.
func hostSlice(value any) (ElementType, []byte, int, bool) {
	switch v := value.(type) {
	case []int8:
		return Int8, native.Bytes(v), len(v), true
	case []uint8:
		return Uint8, native.Bytes(v), len(v), true
	case []int16:
		return Int16, native.Bytes(v), len(v), true
	case []uint16:
		return Uint16, native.Bytes(v), len(v), true
	case []int32:
		return Int32, native.Bytes(v), len(v), true
	case []uint32:
		return Uint32, native.Bytes(v), len(v), true
	case []int64:
		return Int64, native.Bytes(v), len(v), true
	case []uint64:
		return Uint64, native.Bytes(v), len(v), true
	case []float32:
		return Float32, native.Bytes(v), len(v), true
	case []float64:
		return Float64, native.Bytes(v), len(v), true
	default:
		return Unspecified, nil, 0, false
	}
}

// convertInts encodes plain ints as elem.
func convertInts(vals []int, elem ElementType) []byte {
	switch elem {
	case Int8:
		return native.Bytes(convert[int8](vals))
	case Uint8:
		return native.Bytes(convert[uint8](vals))
	case Int16:
		return native.Bytes(convert[int16](vals))
	case Uint16:
		return native.Bytes(convert[uint16](vals))
	case Int32:
		return native.Bytes(convert[int32](vals))
	case Uint32:
		return native.Bytes(convert[uint32](vals))
	case Int64:
		return native.Bytes(convert[int64](vals))
	case Uint64:
		return native.Bytes(convert[uint64](vals))
	case Float32:
		return native.Bytes(convert[float32](vals))
	default:
		return native.Bytes(convert[float64](vals))
	}
}

func convert[T Element](vals []int) []T {
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = T(v)
	}
	return out
}
