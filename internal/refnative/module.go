// Package refnative is an in-process reference implementation of a native
// numeric module.
//
// It behaves like a compiled native build as seen through native.Module:
// its arena relocates on growth, kernels report failure only through status
// codes, and numeric work fans out to a bounded worker pool that is
// invisible at the call boundary. It backs the bridge when no Wasm build is
// configured and drives the test suites.
package refnative

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/arena-bridge/internal/heap"
	"github.com/woxQAQ/arena-bridge/internal/native"
)

// ErrClosed is returned by operations on a closed module.
var ErrClosed = errors.New("refnative: module closed")

// EntryPointNotFoundError occurs when Invoke names an unknown entry point.
type EntryPointNotFoundError struct {
	Name string
}

func (e *EntryPointNotFoundError) Error() string {
	return fmt.Sprintf("entry point '%s' not found in reference module", e.Name)
}

// Kernel is a native entry point. It returns a packed status word.
type Kernel func(ctx context.Context, m *Module, params []uint64) uint64

// Options configures a reference module.
type Options struct {
	// Name identifies the module in logs (default "refnative").
	Name string

	// Workers bounds the kernel worker pool (default 1).
	Workers int

	// InitialPages is the initial arena size in 64KB pages.
	InitialPages uint32

	// MaxPages caps arena growth (default 16384 pages = 1GB).
	MaxPages uint32
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Name:         "refnative",
		Workers:      1,
		InitialPages: 1,
		MaxPages:     16384,
	}
}

// Module is the reference native module.
type Module struct {
	name     string
	mem      *Memory
	heap     *heap.Heap
	workers  int
	kernels  map[string]Kernel
	messages map[uint32]string
	objects  map[uint32]string // live native result objects by kind
	logger   *zap.Logger
	closed   bool
}

// New creates a reference module with the built-in kernels registered.
func New(opts Options, logger *zap.Logger) *Module {
	def := DefaultOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.Workers < 1 {
		opts.Workers = def.Workers
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = def.MaxPages
	}

	mem := NewMemory(opts.InitialPages, opts.MaxPages)
	m := &Module{
		name:     opts.Name,
		mem:      mem,
		heap:     heap.New(mem, 0),
		workers:  opts.Workers,
		kernels:  make(map[string]Kernel),
		messages: make(map[uint32]string),
		objects:  make(map[uint32]string),
		logger:   logger.With(zap.String("component", "refnative")),
	}
	for code, msg := range defaultMessages {
		m.messages[code] = msg
	}
	registerBuiltins(m)

	m.logger.Info("Reference native module initialized",
		zap.String("name", m.name),
		zap.Int("workers", m.workers),
		zap.Uint32("initial_pages", opts.InitialPages),
		zap.Uint32("max_pages", opts.MaxPages),
	)
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.name
}

// Memory returns the module's relocating memory.
func (m *Module) Memory() native.Memory {
	return m.mem
}

// Malloc allocates size bytes in the arena.
func (m *Module) Malloc(_ context.Context, size uint32) (uint32, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return m.heap.Malloc(size), nil
}

// Free releases an allocation.
func (m *Module) Free(_ context.Context, ptr uint32) error {
	if m.closed {
		return ErrClosed
	}
	if !m.heap.Free(ptr) {
		return fmt.Errorf("refnative: free of unknown pointer %d", ptr)
	}
	return nil
}

// Invoke runs a registered kernel.
func (m *Module) Invoke(ctx context.Context, name string, params ...uint64) (uint64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	k, ok := m.kernels[name]
	if !ok {
		return 0, &EntryPointNotFoundError{Name: name}
	}
	return k(ctx, m, params), nil
}

// ErrorMessage returns the diagnostic registered for code.
func (m *Module) ErrorMessage(_ context.Context, code uint32) (string, error) {
	if msg, ok := m.messages[code]; ok {
		return msg, nil
	}
	return fmt.Sprintf("unknown native error code %d", code), nil
}

// Close marks the module closed. Further calls fail with ErrClosed.
func (m *Module) Close(_ context.Context) error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("Reference native module closed",
		zap.Int("live_allocations", m.heap.Stats().Allocations),
	)
	return nil
}

// HeapStats reports allocator occupancy.
func (m *Module) HeapStats() native.HeapStats {
	return m.heap.Stats()
}

// Register adds or replaces an entry point.
func (m *Module) Register(name string, k Kernel) {
	m.kernels[name] = k
}

// RegisterError adds or replaces the diagnostic for a status code.
func (m *Module) RegisterError(code uint32, message string) {
	m.messages[code] = message
}

// EntryPoints lists the registered entry points in name order.
func (m *Module) EntryPoints() []string {
	names := make([]string, 0, len(m.kernels))
	for name := range m.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Workers returns the worker pool bound.
func (m *Module) Workers() int {
	return m.workers
}

// Alloc allocates arena memory from inside a kernel. It returns 0 on
// exhaustion.
func (m *Module) Alloc(size uint32) uint32 {
	return m.heap.Malloc(size)
}

// Release frees arena memory from inside a kernel.
func (m *Module) Release(ptrs ...uint32) {
	for _, p := range ptrs {
		if p != 0 {
			m.heap.Free(p)
		}
	}
}

// Float64s resolves a float64 view. Views must be resolved after the last
// allocation of the kernel.
func (m *Module) Float64s(ptr uint32, n int) ([]float64, bool) {
	return resolve[float64](m.mem, ptr, n)
}

// Int32s resolves an int32 view.
func (m *Module) Int32s(ptr uint32, n int) ([]int32, bool) {
	return resolve[int32](m.mem, ptr, n)
}

// NewObject allocates a result object of nfields uint32 fields and tracks
// it under kind.
func (m *Module) NewObject(kind string, nfields int) uint32 {
	ref := m.heap.Malloc(uint32(nfields * 4)) //nolint:gosec // G115: small field counts
	if ref != 0 {
		m.objects[ref] = kind
	}
	return ref
}

// Object reports whether ref is a live object of kind.
func (m *Module) Object(ref uint32, kind string) bool {
	return m.objects[ref] == kind
}

// DropObject forgets and frees an object.
func (m *Module) DropObject(ref uint32) {
	delete(m.objects, ref)
	m.heap.Free(ref)
}

// Fields reads n uint32 fields of an object.
func (m *Module) Fields(ref uint32, n int) ([]uint32, bool) {
	raw, ok := m.mem.Read(ref, uint32(n*4)) //nolint:gosec // G115: small field counts
	if !ok {
		return nil, false
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out, true
}

// SetFields writes uint32 fields of an object starting at index start.
func (m *Module) SetFields(ref uint32, start int, vals ...uint32) bool {
	raw := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], v)
	}
	return m.mem.Write(ref+uint32(start*4), raw) //nolint:gosec // G115: small field counts
}

// parallel splits [0, n) into chunks processed by at most Workers
// goroutines. Workers must not allocate.
func (m *Module) parallel(ctx context.Context, n int, fn func(lo, hi int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	chunk := (n + m.workers - 1) / m.workers
	if chunk < 1 {
		chunk = 1
	}
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

func resolve[T native.Element](mem *Memory, ptr uint32, n int) ([]T, bool) {
	if n < 0 {
		return nil, false
	}
	var zero T
	size := uint64(n) * uint64(sizeOf(zero))
	if size > uint64(^uint32(0)) {
		return nil, false
	}
	raw, ok := mem.Read(ptr, uint32(size))
	if !ok {
		return nil, false
	}
	return native.Cast[T](raw), true
}

func sizeOf[T native.Element](T) int {
	var zero T
	switch any(zero).(type) {
	case int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	default:
		return 8
	}
}
