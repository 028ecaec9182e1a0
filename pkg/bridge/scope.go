package bridge

import (
	"context"
	"errors"
)

// Scope collects temporary buffers so that every exit path of an operation
// frees them:
//
//	s := b.NewScope(ctx)
//	defer s.Close()
//	in, err := s.Wasmify(matrix, bridge.Float64)
//	...
//	return s.Keep(out), nil
type Scope struct {
	ctx     context.Context
	b       *Bridge
	tracked []*Buffer
	kept    map[*Buffer]struct{}
	closed  bool
}

// NewScope creates a scope. Close runs with ctx's values but ignores its
// cancellation.
func (b *Bridge) NewScope(ctx context.Context) *Scope {
	return &Scope{
		ctx:  context.WithoutCancel(ctx),
		b:    b,
		kept: make(map[*Buffer]struct{}),
	}
}

// Track registers buf for release at Close. Bare views are accepted and
// ignored at Close.
func (s *Scope) Track(buf *Buffer) *Buffer {
	if buf != nil {
		s.tracked = append(s.tracked, buf)
	}
	return buf
}

// Keep transfers ownership of buf to the caller.
func (s *Scope) Keep(buf *Buffer) *Buffer {
	s.kept[buf] = struct{}{}
	return buf
}

// Allocate allocates a tracked buffer.
func (s *Scope) Allocate(elem ElementType, n int) (*Buffer, error) {
	buf, err := s.b.AllocateType(s.ctx, elem, n)
	if err != nil {
		return nil, err
	}
	return s.Track(buf), nil
}

// Wasmify resolves value into the arena, tracking any buffer it allocates.
func (s *Scope) Wasmify(value any, expected ElementType) (*Buffer, error) {
	buf, err := s.b.Wasmify(s.ctx, value, expected)
	if err != nil {
		return nil, err
	}
	if buf.Owned() {
		s.Track(buf)
	}
	return buf, nil
}

// Close frees every tracked buffer not kept. It is idempotent.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.tracked) - 1; i >= 0; i-- {
		buf := s.tracked[i]
		if _, ok := s.kept[buf]; ok {
			continue
		}
		if err := buf.Free(s.ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.tracked = nil
	return errors.Join(errs...)
}
