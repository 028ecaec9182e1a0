package native

import "unsafe"

// Element is the set of numeric types that can live in arena buffers.
type Element interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

// Cast reinterprets b as a slice of T without copying.
//
// Arena memory is little-endian, as is every host this package targets.
// The result aliases b and shares its validity.
func Cast[T Element](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) < size {
		return []T{}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/size)
}

// Bytes reinterprets vals as raw bytes without copying.
func Bytes[T Element](vals []T) []byte {
	if len(vals) == 0 {
		return []byte{}
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(vals))), len(vals)*size)
}
