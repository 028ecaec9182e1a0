// Package native defines the boundary between the host bridge and a native
// numeric module that shares a linear memory arena with the host.
//
// A native module exposes:
//   - a growable linear memory (the arena)
//   - allocate/free primitives over that memory
//   - computational entry points that take arena offsets and scalars
//   - an error-message lookup keyed by numeric status code
//
// Entry points cannot raise host errors. They return a packed status word
// whose upper 32 bits carry a status code (0 on success) and whose lower
// 32 bits carry a value, usually a Ref to a native result object.
package native

import (
	"context"
)

// PageSize is the growth granularity of a linear memory (64KB, as in Wasm).
const PageSize = 65536

// Ref is an opaque reference to a native object resident in the arena.
type Ref uint32

// Memory is a growable linear memory.
//
// The method set is a subset of wazero's api.Memory so a Wasm memory can be
// used directly. Slices returned by Read alias the memory and are only valid
// until the next Grow, which may relocate the underlying region.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32

	// Read returns a view of byteCount bytes starting at offset.
	Read(offset, byteCount uint32) ([]byte, bool)

	// Write copies v into memory starting at offset.
	Write(offset uint32, v []byte) bool

	// Grow extends the memory by deltaPages pages.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// Module is a loaded native module.
type Module interface {
	// Name identifies the module in logs.
	Name() string

	// Memory returns the module's linear memory.
	Memory() Memory

	// Malloc allocates size bytes in the arena. A zero pointer with a nil
	// error means the arena could not grow to satisfy the request.
	Malloc(ctx context.Context, size uint32) (uint32, error)

	// Free releases an allocation made by Malloc.
	Free(ctx context.Context, ptr uint32) error

	// Invoke calls a named entry point and returns its packed status word.
	// A non-nil error means the call could not be made at all (missing entry
	// point, trap); native failures are reported through the status word.
	Invoke(ctx context.Context, name string, params ...uint64) (uint64, error)

	// ErrorMessage looks up the diagnostic registered for a status code.
	ErrorMessage(ctx context.Context, code uint32) (string, error)

	// Close releases the module and its worker pool.
	Close(ctx context.Context) error
}

// HeapStats describes allocator occupancy.
type HeapStats struct {
	// InUse is the number of bytes currently allocated.
	InUse uint64
	// Allocations is the number of live allocations.
	Allocations int
	// Committed is the size of the managed region in bytes.
	Committed uint64
}

// Accountant is implemented by modules that can report allocator occupancy.
type Accountant interface {
	HeapStats() HeapStats
}

// Pack builds a status word from a status code and a value.
func Pack(code, value uint32) uint64 {
	return (uint64(code) << 32) | uint64(value)
}

// Unpack splits a status word into its status code and value.
func Unpack(word uint64) (code, value uint32) {
	code = uint32(word >> 32)         //nolint:gosec // G115: upper half of packed word
	value = uint32(word & 0xFFFFFFFF) //nolint:gosec // G115: lower half of packed word
	return code, value
}

// OK builds a successful status word carrying value.
func OK(value uint32) uint64 {
	return Pack(0, value)
}

// Fail builds a failed status word carrying code.
func Fail(code uint32) uint64 {
	return Pack(code, 0)
}
