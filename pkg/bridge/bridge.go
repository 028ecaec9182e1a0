// Package bridge lets Go code drive objects resident in the linear memory
// arena of a native numeric module.
//
// The bridge owns three concerns:
//   - a handle registry that releases native results at most once, with a
//     cleanup fallback for handles that become unreachable unreleased
//   - a materialization policy reconciling host slices, arena buffers and
//     re-resolvable views
//   - a single call path that decodes native status codes into Go errors
//
// A Bridge is not safe for concurrent use. The native module may run
// kernels on its own worker pool, but every bridge operation is
// synchronous on the caller's goroutine.
package bridge

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

// Options configures a Bridge.
type Options struct {
	// EpochChecks makes reads through arena views captured before a growth
	// fail with StaleViewError. Disabling it leaves the discipline to the
	// caller: stale views silently read relocated memory.
	EpochChecks bool

	Logger   *zap.Logger
	Observer Observer
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		EpochChecks: true,
		Logger:      zap.NewNop(),
		Observer:    NoopObserver{},
	}
}

// Option configures a Bridge.
type Option func(*Options)

// WithEpochChecks enables or disables stale view detection.
func WithEpochChecks(enabled bool) Option {
	return func(o *Options) {
		o.EpochChecks = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithObserver sets the observer receiving call, arena and handle activity.
func WithObserver(observer Observer) Option {
	return func(o *Options) {
		o.Observer = observer
	}
}

// NativeFunc invokes the native module and returns a packed status word.
type NativeFunc func(ctx context.Context, mod native.Module) (uint64, error)

// Entry returns a NativeFunc invoking the named entry point.
func Entry(name string, params ...uint64) NativeFunc {
	return func(ctx context.Context, mod native.Module) (uint64, error) {
		return mod.Invoke(ctx, name, params...)
	}
}

// Bridge binds a native module's arena to Go.
type Bridge struct {
	mod      native.Module
	arena    *Arena
	registry *Registry
	observer Observer
	logger   *zap.Logger

	terminateOnce sync.Once
	terminated    bool
	terminateErr  error
}

// New creates a bridge over mod. The bridge takes ownership of mod and
// closes it on Terminate.
func New(_ context.Context, mod native.Module, opts ...Option) (*Bridge, error) {
	if mod == nil {
		return nil, &ValidationError{Op: "new bridge", Message: "native module is nil"}
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = NoopObserver{}
	}

	b := &Bridge{
		mod:      mod,
		arena:    newArena(mod, o.EpochChecks),
		registry: NewRegistry(o.Logger, o.Observer),
		observer: o.Observer,
		logger:   o.Logger.With(zap.String("component", "bridge"), zap.String("module", mod.Name())),
	}

	b.logger.Info("Bridge initialized",
		zap.Uint64("arena", b.arena.ID()),
		zap.Uint32("arena_bytes", b.arena.Size()),
		zap.Bool("epoch_checks", o.EpochChecks),
	)
	b.observeArena()
	return b, nil
}

// Module returns the native module.
func (b *Bridge) Module() native.Module {
	return b.mod
}

// Arena returns the bridge's arena.
func (b *Bridge) Arena() *Arena {
	return b.arena
}

// Registry returns the handle registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Stats returns arena occupancy and the handle counts.
func (b *Bridge) Stats() Stats {
	s := b.arena.Stats()
	s.LiveHandles = b.registry.Live()
	s.PendingReleases = b.registry.Pending()
	return s
}

// Terminated reports whether Terminate has been called.
func (b *Bridge) Terminated() bool {
	return b.terminated
}

// Drain releases handles whose cleanup fallback has fired.
func (b *Bridge) Drain(ctx context.Context) int {
	if b.terminated {
		return 0
	}
	n := b.registry.Drain(ctx)
	if n > 0 {
		b.observeArena()
	}
	return n
}

// Call runs fn against the native module and decodes its status word.
//
// Host errors returned by fn propagate unchanged. A non-zero status code is
// turned into a NativeComputationError carrying the module's diagnostic for
// the code. On success the status value is returned.
func (b *Bridge) Call(ctx context.Context, fn NativeFunc) (uint32, error) {
	if b.terminated {
		return 0, ErrTerminated
	}
	b.registry.Drain(ctx)
	return b.call(ctx, fn)
}

// Invoke calls a named entry point through Call.
func (b *Bridge) Invoke(ctx context.Context, name string, params ...uint64) (uint32, error) {
	return b.Call(ctx, Entry(name, params...))
}

func (b *Bridge) call(ctx context.Context, fn NativeFunc) (uint32, error) {
	rec := &recorder{Module: b.mod}
	start := time.Now()
	word, err := fn(ctx, rec)
	elapsed := time.Since(start)
	defer b.observeArena()

	if err != nil {
		b.observer.ObserveCall(rec.entryPoint(), elapsed, OutcomeHostError)
		b.logger.Debug("Native call failed on host side",
			zap.String("entry_point", rec.entryPoint()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return 0, err
	}

	code, value := native.Unpack(word)
	if code != 0 {
		b.observer.ObserveCall(rec.entryPoint(), elapsed, OutcomeNativeError)
		msg, lookupErr := b.mod.ErrorMessage(ctx, code)
		nerr := &NativeComputationError{
			EntryPoint: rec.entryPoint(),
			Code:       code,
			Message:    msg,
			Err:        lookupErr,
		}
		b.logger.Debug("Native call reported failure",
			zap.String("entry_point", rec.entryPoint()),
			zap.Uint32("code", code),
			zap.String("message", msg),
			zap.Duration("elapsed", elapsed),
		)
		return 0, nerr
	}

	b.observer.ObserveCall(rec.entryPoint(), elapsed, OutcomeOK)
	b.logger.Debug("Native call",
		zap.String("entry_point", rec.entryPoint()),
		zap.Uint32("value", value),
		zap.Duration("elapsed", elapsed),
	)
	return value, nil
}

// Wrap registers ref under a new handle whose destructor invokes the named
// native entry point with ref.
func (b *Bridge) Wrap(ref native.Ref, destructor string) (*Handle, error) {
	if b.terminated {
		return nil, ErrTerminated
	}
	b.registry.Drain(context.Background())
	return b.registry.Wrap(ref, b.destructor(ref, destructor)), nil
}

// destructor builds a Destructor calling entryPoint(ref) through the call
// path, bypassing the terminated check so Terminate can release handles.
func (b *Bridge) destructor(ref native.Ref, entryPoint string) Destructor {
	return func(ctx context.Context) error {
		_, err := b.call(ctx, Entry(entryPoint, uint64(ref)))
		return err
	}
}

// AllocateType allocates an owned buffer of n elements of elem.
func (b *Bridge) AllocateType(ctx context.Context, elem ElementType, n int) (*Buffer, error) {
	if b.terminated {
		return nil, ErrTerminated
	}
	if !elem.Valid() {
		return nil, &ValidationError{Op: "allocate", Message: fmt.Sprintf("invalid element type %s", elem)}
	}
	if n < 0 {
		return nil, &ValidationError{Op: "allocate", Message: fmt.Sprintf("negative length %d", n)}
	}
	b.registry.Drain(ctx)

	size := uint64(n) * uint64(elem.Size())
	if size > math.MaxUint32 {
		return nil, &OutOfMemoryError{Requested: size, Committed: uint64(b.arena.Size())}
	}

	ptr, err := b.mod.Malloc(ctx, uint32(size))
	if err != nil {
		return nil, fmt.Errorf("native malloc of %d bytes: %w", size, err)
	}
	defer b.observeArena()
	if ptr == 0 {
		return nil, &OutOfMemoryError{Requested: size, Committed: uint64(b.arena.Size())}
	}
	b.arena.sync()

	mod := b.mod
	h := b.registry.Wrap(native.Ref(ptr), func(ctx context.Context) error {
		return mod.Free(ctx, ptr)
	})
	return &Buffer{
		arena:  b.arena,
		offset: ptr,
		length: n,
		elem:   elem,
		owner:  h,
	}, nil
}

// Allocate allocates an owned buffer of n elements of T.
func Allocate[T Element](ctx context.Context, b *Bridge, n int) (*Buffer, error) {
	return b.AllocateType(ctx, ElementTypeOf[T](), n)
}

// Child returns a bare view of n elements of elem at offset, owned by the
// native result behind h.
func (b *Bridge) Child(h *Handle, offset uint32, n int, elem ElementType) (*Buffer, error) {
	if !elem.Valid() || n < 0 {
		return nil, &ValidationError{Op: "child buffer", Message: fmt.Sprintf("invalid layout: %d x %s", n, elem)}
	}
	if end := uint64(offset) + uint64(n)*uint64(elem.Size()); end > uint64(b.arena.Size()) {
		return nil, &ValidationError{
			Op:      "child buffer",
			Message: fmt.Sprintf("native result buffer [%d, %d) outside arena", offset, end),
		}
	}
	return &Buffer{
		arena:  b.arena,
		offset: offset,
		length: n,
		elem:   elem,
		parent: h,
	}, nil
}

// Fields reads n uint32 fields of the native result object behind h.
func (b *Bridge) Fields(h *Handle, n int) ([]uint32, error) {
	if !h.Live() {
		return nil, ErrReleased
	}
	raw, err := b.arena.read(uint32(h.Ref()), n*4)
	if err != nil {
		return nil, err
	}
	return append([]uint32(nil), native.Cast[uint32](raw)...), nil
}

// Terminate releases every live handle and closes the native module.
// It is idempotent; later operations fail with ErrTerminated.
func (b *Bridge) Terminate(ctx context.Context) error {
	b.terminateOnce.Do(func() {
		drained := b.registry.Drain(ctx)
		leaked := b.registry.Live()
		if leaked > 0 {
			b.logger.Warn("Releasing handles still live at terminate",
				zap.Int("handles", leaked),
			)
		}
		b.registry.ReleaseAll(ctx, CauseTerminate)

		b.terminated = true
		b.arena.closed = true
		b.terminateErr = b.mod.Close(ctx)
		clearDefault(b)

		b.logger.Info("Bridge terminated",
			zap.Int("drained", drained),
			zap.Int("leaked", leaked),
			zap.Error(b.terminateErr),
		)
	})
	return b.terminateErr
}

func (b *Bridge) observeArena() {
	s := b.arena.Stats()
	b.observer.ObserveArena(s.Committed, s.InUse, s.Epoch)
}

// recorder remembers the last entry point invoked through it.
type recorder struct {
	native.Module
	name string
}

func (r *recorder) Invoke(ctx context.Context, name string, params ...uint64) (uint64, error) {
	r.name = name
	return r.Module.Invoke(ctx, name, params...)
}

func (r *recorder) entryPoint() string {
	if r.name == "" {
		return "anonymous"
	}
	return r.name
}
