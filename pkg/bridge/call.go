package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

// CallWrap invokes factory, wraps the returned native reference in a handle
// released through the destructor entry point, and builds the result with
// construct.
//
// If construct fails or panics, the handle is released before the error or
// panic propagates, so a native result that fails a post-allocation check
// never leaks.
func CallWrap[W any](
	ctx context.Context,
	b *Bridge,
	factory NativeFunc,
	destructor string,
	construct func(h *Handle) (W, error),
) (w W, err error) {
	value, err := b.Call(ctx, factory)
	if err != nil {
		return w, err
	}

	ref := native.Ref(value)
	h := b.registry.Wrap(ref, b.destructor(ref, destructor))

	defer func() {
		if r := recover(); r != nil {
			b.unwind(ctx, h)
			panic(r)
		}
		if err != nil {
			b.unwind(ctx, h)
		}
	}()

	return construct(h)
}

// unwind releases a handle whose wrapper could not be constructed.
func (b *Bridge) unwind(ctx context.Context, h *Handle) {
	if err := b.registry.release(context.WithoutCancel(ctx), h.ID(), CauseUnwind); err != nil {
		b.logger.Warn("Failed to release handle after construction failure",
			zap.Uint64("handle", h.ID()),
			zap.Error(err),
		)
	}
}
