package bridge

import (
	"context"
	"runtime"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/zap"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

// Destructor releases the native resource behind a handle.
type Destructor func(ctx context.Context) error

// Handle names one native-backed resource. Handles are created by Wrap and
// released at most once, explicitly or by the cleanup fallback.
type Handle struct {
	id  uint64
	ref native.Ref
	reg *Registry
}

// ID returns the handle id. Ids increase strictly in creation order.
func (h *Handle) ID() uint64 {
	return h.id
}

// Ref returns the native reference.
func (h *Handle) Ref() native.Ref {
	return h.ref
}

// Live reports whether the handle has not been released.
func (h *Handle) Live() bool {
	return h.reg.live(h.id)
}

// Release runs the native destructor unless the handle was already
// released. Releasing twice is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	return h.reg.release(ctx, h.id, CauseExplicit)
}

type entry struct {
	ref     native.Ref
	destroy Destructor
	cleanup runtime.Cleanup
}

// Registry maps handle ids to native resources.
//
// Entries never reference their Handle, so an unreachable Handle triggers its
// cleanup. Cleanups only enqueue the id; the queue is drained on the
// caller's goroutine by Drain, so native memory is only touched there.
type Registry struct {
	mu       sync.Mutex
	next     uint64
	entries  map[uint64]*entry
	released *roaring64.Bitmap
	pending  []uint64

	observer Observer
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, observer Observer) *Registry {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &Registry{
		entries:  make(map[uint64]*entry),
		released: roaring64.New(),
		observer: observer,
		logger:   logger.With(zap.String("component", "handle-registry")),
	}
}

// Wrap assigns the next id to ref. destroy runs when the handle is released.
func (r *Registry) Wrap(ref native.Ref, destroy Destructor) *Handle {
	r.mu.Lock()
	r.next++
	h := &Handle{id: r.next, ref: ref, reg: r}
	e := &entry{ref: ref, destroy: destroy}
	r.entries[h.id] = e
	live := len(r.entries)
	r.mu.Unlock()

	e.cleanup = runtime.AddCleanup(h, r.enqueue, h.id)

	r.logger.Debug("Handle wrapped",
		zap.Uint64("handle", h.id),
		zap.Uint32("ref", uint32(ref)),
	)
	r.observer.ObserveHandles(live)
	return h
}

// Release releases id. Unknown and already released ids are no-ops.
func (r *Registry) Release(ctx context.Context, id uint64) error {
	return r.release(ctx, id, CauseExplicit)
}

func (r *Registry) release(ctx context.Context, id uint64, cause string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, id)
	r.released.Add(id)
	live := len(r.entries)
	r.mu.Unlock()

	e.cleanup.Stop()

	err := e.destroy(ctx)
	if err != nil {
		r.logger.Warn("Native destructor failed",
			zap.Uint64("handle", id),
			zap.String("cause", cause),
			zap.Error(err),
		)
	} else {
		r.logger.Debug("Handle released",
			zap.Uint64("handle", id),
			zap.String("cause", cause),
		)
	}
	r.observer.ObserveRelease(cause)
	r.observer.ObserveHandles(live)
	return err
}

// enqueue runs on the cleanup goroutine.
func (r *Registry) enqueue(id uint64) {
	r.mu.Lock()
	r.pending = append(r.pending, id)
	r.mu.Unlock()
}

// Drain releases every handle whose cleanup has fired and returns how many
// it released.
func (r *Registry) Drain(ctx context.Context) int {
	r.mu.Lock()
	ids := r.pending
	r.pending = nil
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if !r.live(id) {
			continue
		}
		r.logger.Warn("Releasing unreachable handle that was never freed",
			zap.Uint64("handle", id),
		)
		_ = r.release(ctx, id, CauseCleanup)
		n++
	}
	return n
}

// ReleaseAll releases every live handle in id order and returns how many it
// released.
func (r *Registry) ReleaseAll(ctx context.Context, cause string) int {
	r.mu.Lock()
	ids := roaring64.New()
	for id := range r.entries {
		ids.Add(id)
	}
	r.mu.Unlock()

	it := ids.Iterator()
	n := 0
	for it.HasNext() {
		id := it.Next()
		_ = r.release(ctx, id, cause)
		n++
	}
	return n
}

// Live returns the number of live handles.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Pending returns the number of ids queued by cleanups and not yet drained.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Released reports whether id was released.
func (r *Registry) Released(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released.Contains(id)
}

func (r *Registry) live(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}
