package wasm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/arena-bridge/internal/heap"
	"github.com/woxQAQ/arena-bridge/internal/native"
)

// maxCStringLen bounds NUL-terminated diagnostics read from native memory.
const maxCStringLen = 4096

// ExportNames names the allocator and diagnostic exports of a native build.
type ExportNames struct {
	Malloc       string
	Free         string
	ErrorMessage string
}

// DefaultExportNames returns the conventional export names.
func DefaultExportNames() ExportNames {
	return ExportNames{
		Malloc:       "malloc",
		Free:         "free",
		ErrorMessage: "error_message",
	}
}

// NativeOption configures a Native.
type NativeOption func(*Native)

// WithExportNames overrides the allocator and diagnostic export names.
func WithExportNames(names ExportNames) NativeOption {
	return func(n *Native) {
		n.names = names
	}
}

// WithExecutionTimeout bounds each entry point call. It only interrupts a
// running call when the runtime was created with CloseOnContextDone.
func WithExecutionTimeout(d time.Duration) NativeOption {
	return func(n *Native) {
		n.timeout = d
	}
}

// Native adapts a wazero instance to native.Module.
//
// Builds that export malloc/free manage the arena themselves. Builds that
// export only memory get a host-managed heap placed above their initial
// memory, so static data is never handed out.
type Native struct {
	inst    *Instance
	mem     *Memory
	names   ExportNames
	heap    *heap.Heap
	timeout time.Duration
	logger  *zap.Logger
}

var _ native.Module = (*Native)(nil)

// NewNative wraps inst.
func NewNative(inst *Instance, logger *zap.Logger, opts ...NativeOption) (*Native, error) {
	n := &Native{
		inst:   inst,
		names:  DefaultExportNames(),
		logger: logger.With(zap.String("component", "wasm-native"), zap.String("instance_id", inst.ID)),
	}
	for _, opt := range opts {
		opt(n)
	}

	mem := inst.Memory()
	if mem == nil {
		return nil, &MemoryAccessError{
			Op:  "resolve",
			Err: errors.New("module exports no memory"),
		}
	}
	n.mem = NewMemory(mem)

	malloc := inst.Export(n.names.Malloc)
	free := inst.Export(n.names.Free)
	switch {
	case malloc == nil && free == nil:
		n.heap = heap.New(mem, mem.Size())
		n.logger.Info("Native module has no allocator exports, using host-managed heap",
			zap.Uint32("heap_base", mem.Size()),
		)
	case malloc == nil:
		return nil, &FunctionNotFoundError{Module: inst.Name, Export: n.names.Malloc}
	case free == nil:
		return nil, &FunctionNotFoundError{Module: inst.Name, Export: n.names.Free}
	default:
		if err := checkSignature(inst.Name, n.names.Malloc, malloc, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}); err != nil {
			return nil, err
		}
		if err := checkSignature(inst.Name, n.names.Free, free, []api.ValueType{api.ValueTypeI32}, nil); err != nil {
			return nil, err
		}
	}
	if msg := inst.Export(n.names.ErrorMessage); msg != nil {
		if err := checkSignature(inst.Name, n.names.ErrorMessage, msg, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// checkSignature rejects an export whose parameter or result types differ
// from the calling convention.
func checkSignature(module, export string, fn api.Function, params, results []api.ValueType) error {
	def := fn.Definition()
	if slices.Equal(def.ParamTypes(), params) && slices.Equal(def.ResultTypes(), results) {
		return nil
	}
	return &SignatureError{
		Module:      module,
		Export:      export,
		WantParams:  params,
		WantResults: results,
		GotParams:   def.ParamTypes(),
		GotResults:  def.ResultTypes(),
	}
}

// Name returns the module name.
func (n *Native) Name() string {
	return n.inst.Name
}

// Memory returns the instance's linear memory.
func (n *Native) Memory() native.Memory {
	return n.inst.Memory()
}

// Malloc allocates size bytes in the arena.
func (n *Native) Malloc(ctx context.Context, size uint32) (uint32, error) {
	if n.heap != nil {
		return n.heap.Malloc(size), nil
	}
	results, err := n.inst.Export(n.names.Malloc).Call(ctx, uint64(size))
	if err != nil {
		return 0, &CallError{Export: n.names.Malloc, Err: err}
	}
	if len(results) == 0 {
		return 0, &CallError{Export: n.names.Malloc, Err: errors.New("no result")}
	}
	return uint32(results[0]), nil //nolint:gosec // G115: Wasm32 pointers are 32-bit
}

// Free releases an allocation.
func (n *Native) Free(ctx context.Context, ptr uint32) error {
	if n.heap != nil {
		if !n.heap.Free(ptr) {
			return &MemoryAccessError{Op: "free", Offset: ptr, Err: errors.New("pointer not allocated by host heap")}
		}
		return nil
	}
	if _, err := n.inst.Export(n.names.Free).Call(ctx, uint64(ptr)); err != nil {
		return &CallError{Export: n.names.Free, Err: err}
	}
	return nil
}

// Invoke calls an exported entry point and returns its status word. Entry
// points with no results report success with a zero value.
func (n *Native) Invoke(ctx context.Context, name string, params ...uint64) (uint64, error) {
	fn := n.inst.Export(name)
	if fn == nil {
		return 0, &FunctionNotFoundError{Module: n.inst.Name, Export: name}
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, &TimeoutError{Export: name, Limit: n.timeout}
		}
		return 0, &CallError{Export: name, Err: err}
	}
	if len(results) == 0 {
		return native.OK(0), nil
	}
	return results[0], nil
}

// ErrorMessage asks the module for the diagnostic of code. The export
// returns a packed (ptr, len) word; a zero length means a NUL-terminated
// string at ptr.
func (n *Native) ErrorMessage(ctx context.Context, code uint32) (string, error) {
	fn := n.inst.Export(n.names.ErrorMessage)
	if fn == nil {
		return fmt.Sprintf("native error code %d", code), nil
	}
	results, err := fn.Call(ctx, uint64(code))
	if err != nil {
		return "", &CallError{Export: n.names.ErrorMessage, Err: err}
	}
	if len(results) == 0 {
		return "", &CallError{Export: n.names.ErrorMessage, Err: errors.New("no result")}
	}

	ptr, length := native.Unpack(results[0])
	if length == 0 {
		return n.mem.ReadCString(ptr, maxCStringLen)
	}
	return n.mem.ReadString(ptr, length)
}

// HeapStats reports host-managed heap occupancy. Modules with their own
// allocator report only the committed memory size.
func (n *Native) HeapStats() native.HeapStats {
	if n.heap != nil {
		return n.heap.Stats()
	}
	return native.HeapStats{Committed: uint64(n.inst.Memory().Size())}
}

// Close closes the instance.
func (n *Native) Close(ctx context.Context) error {
	n.logger.Info("Closing native module")
	return n.inst.Close(ctx)
}
