package bridge

import (
	"context"
	"fmt"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

// Buffer is a typed region of an arena.
//
// A Buffer holds an offset, not a slice, so it stays valid across arena
// growth. An owned buffer frees its allocation when released. A bare view
// aliases memory owned by something else; freeing it is a no-op, and it
// keeps its parent handle reachable so the cleanup fallback cannot reclaim
// the memory underneath it.
type Buffer struct {
	arena  *Arena
	offset uint32
	length int
	elem   ElementType

	owner  *Handle
	parent *Handle
}

// Offset returns the byte offset in the arena.
func (b *Buffer) Offset() uint32 {
	return b.offset
}

// Len returns the number of elements.
func (b *Buffer) Len() int {
	return b.length
}

// ElementType returns the element type.
func (b *Buffer) ElementType() ElementType {
	return b.elem
}

// ByteLen returns the size in bytes.
func (b *Buffer) ByteLen() int {
	return b.length * b.elem.Size()
}

// Arena returns the arena the buffer lives in.
func (b *Buffer) Arena() *Arena {
	return b.arena
}

// Owned reports whether the buffer owns its allocation.
func (b *Buffer) Owned() bool {
	return b.owner != nil
}

// Handle returns the owning handle, or nil for a bare view.
func (b *Buffer) Handle() *Handle {
	return b.owner
}

// Live reports whether the memory behind the buffer is still allocated.
func (b *Buffer) Live() bool {
	h := b.owner
	if h == nil {
		h = b.parent
	}
	return h == nil || h.Live()
}

// Free releases an owned buffer. Freeing a bare view or an already freed
// buffer is a no-op.
func (b *Buffer) Free(ctx context.Context) error {
	if b.owner == nil {
		return nil
	}
	return b.owner.Release(ctx)
}

// View returns a bare view aliasing the whole buffer.
func (b *Buffer) View() *Buffer {
	return &Buffer{
		arena:  b.arena,
		offset: b.offset,
		length: b.length,
		elem:   b.elem,
		parent: b.keeper(),
	}
}

// Slice returns a bare view of elements [start, end).
func (b *Buffer) Slice(start, end int) (*Buffer, error) {
	if start < 0 || end < start || end > b.length {
		return nil, &ValidationError{
			Op:      "slice",
			Message: fmt.Sprintf("range [%d, %d) out of bounds for length %d", start, end, b.length),
		}
	}
	return &Buffer{
		arena:  b.arena,
		offset: b.offset + uint32(start*b.elem.Size()), //nolint:gosec // G115: bounded by buffer length
		length: end - start,
		elem:   b.elem,
		parent: b.keeper(),
	}, nil
}

// keeper is the handle whose liveness governs the buffer's memory.
func (b *Buffer) keeper() *Handle {
	if b.owner != nil {
		return b.owner
	}
	return b.parent
}

// bytes resolves a live byte view of the buffer.
func (b *Buffer) bytes() ([]byte, error) {
	if !b.Live() {
		return nil, ErrReleased
	}
	return b.arena.read(b.offset, b.ByteLen())
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() ([]byte, error) {
	raw, err := b.bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// Store copies vals into buf starting at element index at.
func Store[T Element](buf *Buffer, at int, vals []T) error {
	if elem := ElementTypeOf[T](); elem != buf.elem {
		return &TypeMismatchError{Op: "store", Expected: buf.elem, Actual: elem}
	}
	if at < 0 || at+len(vals) > buf.length {
		return &ValidationError{
			Op:      "store",
			Message: fmt.Sprintf("%d elements at index %d overflow buffer of length %d", len(vals), at, buf.length),
		}
	}
	if !buf.Live() {
		return ErrReleased
	}
	return buf.arena.write(buf.offset+uint32(at*buf.elem.Size()), native.Bytes(vals)) //nolint:gosec // G115: bounded by buffer length
}
