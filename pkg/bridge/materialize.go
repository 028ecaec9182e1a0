package bridge

import (
	"context"
	"fmt"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

// Mode selects how PossibleCopy materializes a value.
type Mode int

const (
	// ModeCopy returns a host-owned snapshot, valid indefinitely.
	ModeCopy Mode = iota
	// ModeNone returns the live arena view: zero copy, invalid after the
	// next arena growth.
	ModeNone
	// ModeView returns a re-resolvable view that reads the arena afresh on
	// every access.
	ModeView
)

func (m Mode) String() string {
	switch m {
	case ModeCopy:
		return "copy"
	case ModeNone:
		return "none"
	case ModeView:
		return "view"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Kind is the representation a Value holds.
type Kind int

const (
	// HostCopy is host memory independent of the arena.
	HostCopy Kind = iota
	// ArenaView aliases arena memory captured at one epoch.
	ArenaView
	// CallerAlias is the caller's own host slice, borrowed.
	CallerAlias
	// Resolvable re-resolves the arena on every access.
	Resolvable
)

func (k Kind) String() string {
	switch k {
	case HostCopy:
		return "host-copy"
	case ArenaView:
		return "arena-view"
	case CallerAlias:
		return "caller-alias"
	case Resolvable:
		return "resolvable"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a transient materialization of an arena buffer or host slice.
// Values are never stored by the bridge.
type Value[T Element] struct {
	kind  Kind
	data  []T
	arena *Arena
	epoch uint64
	view  *View[T]
}

// Kind returns the representation held.
func (v Value[T]) Kind() Kind {
	return v.kind
}

// Len returns the number of elements.
func (v Value[T]) Len() int {
	if v.kind == Resolvable {
		return v.view.Len()
	}
	return len(v.data)
}

// Get returns the elements. Arena views captured before a growth fail with
// StaleViewError when epoch checks are on; resolvable values read the arena
// afresh.
func (v Value[T]) Get() ([]T, error) {
	switch v.kind {
	case ArenaView:
		if err := v.arena.checkEpoch(v.epoch); err != nil {
			return nil, err
		}
		return v.data, nil
	case Resolvable:
		return v.view.Materialize()
	default:
		return v.data, nil
	}
}

// Slice returns the elements without any staleness check. For arena views
// the result reads relocated memory after a growth. A resolvable value whose
// buffer was released yields nil; Get reports that case as an error.
func (v Value[T]) Slice() []T {
	if v.kind == Resolvable {
		data, _ := v.view.Materialize()
		return data
	}
	return v.data
}

// View returns the re-resolvable view of a Resolvable value, or nil.
func (v Value[T]) View() *View[T] {
	return v.view
}

// View is a re-resolvable typed view of an arena buffer.
type View[T Element] struct {
	buf *Buffer
}

// Len returns the number of elements.
func (v *View[T]) Len() int {
	return v.buf.Len()
}

// Buffer returns the underlying buffer.
func (v *View[T]) Buffer() *Buffer {
	return v.buf
}

// Materialize reads the current contents into a fresh host slice.
func (v *View[T]) Materialize() ([]T, error) {
	raw, err := v.buf.bytes()
	if err != nil {
		return nil, err
	}
	return append([]T(nil), native.Cast[T](raw)[:v.buf.length]...), nil
}

// Resolve returns a live arena view at the current epoch. It is valid until
// the next arena growth.
func (v *View[T]) Resolve() (Value[T], error) {
	return arenaView[T](v.buf)
}

func arenaView[T Element](buf *Buffer) (Value[T], error) {
	raw, err := buf.bytes()
	if err != nil {
		return Value[T]{}, err
	}
	return Value[T]{
		kind:  ArenaView,
		data:  native.Cast[T](raw)[:buf.length:buf.length],
		arena: buf.arena,
		epoch: buf.arena.Epoch(),
	}, nil
}

// PossibleCopy materializes value, a *Buffer or a []T host slice, per mode.
//
// Host slices are returned as CallerAlias for ModeNone and copied for
// ModeCopy; ModeView requires an arena buffer.
func PossibleCopy[T Element](value any, mode Mode) (Value[T], error) {
	elem := ElementTypeOf[T]()

	switch v := value.(type) {
	case *Buffer:
		if v == nil {
			return Value[T]{}, &ValidationError{Op: "possible copy", Message: "nil buffer"}
		}
		if v.elem != elem {
			return Value[T]{}, &TypeMismatchError{Op: "possible copy", Expected: elem, Actual: v.elem}
		}
		switch mode {
		case ModeCopy:
			raw, err := v.bytes()
			if err != nil {
				return Value[T]{}, err
			}
			data := make([]T, v.length)
			copy(data, native.Cast[T](raw))
			return Value[T]{kind: HostCopy, data: data}, nil
		case ModeNone:
			return arenaView[T](v)
		case ModeView:
			if !v.Live() {
				return Value[T]{}, ErrReleased
			}
			return Value[T]{kind: Resolvable, view: &View[T]{buf: v.View()}}, nil
		}

	case []T:
		switch mode {
		case ModeCopy:
			return Value[T]{kind: HostCopy, data: append(make([]T, 0, len(v)), v...)}, nil
		case ModeNone:
			return Value[T]{kind: CallerAlias, data: v}, nil
		case ModeView:
			return Value[T]{}, &ValidationError{
				Op:      "possible copy",
				Message: "view mode requires an arena-resident buffer",
			}
		}

	default:
		return Value[T]{}, &ValidationError{
			Op:      "possible copy",
			Message: fmt.Sprintf("unsupported value type %T for element type %s", value, elem),
		}
	}

	return Value[T]{}, &ValidationError{Op: "possible copy", Message: fmt.Sprintf("unknown mode %s", mode)}
}

// Wasmify resolves value into a buffer of the bridge's arena.
//
//   - A bare view of this arena is returned unchanged.
//   - An owned buffer of this arena yields a fresh bare view of the same
//     memory, which the caller may free without disturbing the owner.
//   - A buffer of another arena is cloned into this arena.
//   - A host slice is copied into a new owned buffer. Plain []int has no
//     declared element type and is converted to expected (Float64 when
//     Unspecified).
//
// A conflict between expected and the value's declared element type fails
// with TypeMismatchError before anything is allocated.
func (b *Bridge) Wasmify(ctx context.Context, value any, expected ElementType) (*Buffer, error) {
	if b.terminated {
		return nil, ErrTerminated
	}

	switch v := value.(type) {
	case *Buffer:
		if v == nil {
			return nil, &ValidationError{Op: "wasmify", Message: "nil buffer"}
		}
		if expected != Unspecified && expected != v.elem {
			return nil, &TypeMismatchError{Op: "wasmify", Expected: expected, Actual: v.elem}
		}
		if v.arena == b.arena {
			if !v.Live() {
				return nil, ErrReleased
			}
			if !v.Owned() {
				return v, nil
			}
			return v.View(), nil
		}
		raw, err := v.bytes()
		if err != nil {
			return nil, fmt.Errorf("wasmify: read foreign buffer: %w", err)
		}
		// Copy out before allocating: allocation may relocate either arena.
		data := append([]byte(nil), raw...)
		return b.allocateBytes(ctx, v.elem, v.length, data)

	case []int:
		elem := expected
		if elem == Unspecified {
			elem = Float64
		}
		if !elem.Valid() {
			return nil, &ValidationError{Op: "wasmify", Message: fmt.Sprintf("invalid element type %s", elem)}
		}
		return b.allocateBytes(ctx, elem, len(v), convertInts(v, elem))

	default:
		elem, data, n, ok := hostSlice(value)
		if !ok {
			return nil, &ValidationError{Op: "wasmify", Message: fmt.Sprintf("unsupported value type %T", value)}
		}
		if expected != Unspecified && expected != elem {
			return nil, &TypeMismatchError{Op: "wasmify", Expected: expected, Actual: elem}
		}
		return b.allocateBytes(ctx, elem, n, data)
	}
}

// Wasmify is the package-level form of (*Bridge).Wasmify.
func Wasmify(ctx context.Context, b *Bridge, value any, expected ElementType) (*Buffer, error) {
	return b.Wasmify(ctx, value, expected)
}

// allocateBytes allocates an owned buffer of n elements and fills it.
func (b *Bridge) allocateBytes(ctx context.Context, elem ElementType, n int, data []byte) (*Buffer, error) {
	buf, err := b.AllocateType(ctx, elem, n)
	if err != nil {
		return nil, err
	}
	if err := b.arena.write(buf.offset, data); err != nil {
		_ = buf.Free(ctx)
		return nil, err
	}
	return buf, nil
}
