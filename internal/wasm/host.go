package wasm

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// HostModuleName is the import module native builds link host functions from.
const HostModuleName = "env"

// HostFunctionsImpl implements the host imports available to native modules.
type HostFunctionsImpl struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		logger: logger.With(zap.String("component", "wasm-host")),
		now:    time.Now,
	}
}

// logMessage lets native code log through the host logger.
// Signature: log_message(level, ptr, length)
// level: 0 = debug, 1 = info, 2 = warn, 3 = error
func (h *HostFunctionsImpl) logMessage(_ context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		h.logger.Error("Failed to read log message from native memory",
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	// Copy before logging; the view dies with the next memory growth.
	text := string(msg)
	module := zap.String("module", mod.Name())
	switch level {
	case 0:
		h.logger.Debug(text, module)
	case 2:
		h.logger.Warn(text, module)
	case 3:
		h.logger.Error(text, module)
	default:
		h.logger.Info(text, module)
	}
}

// nowMillis gives native iteration loops a clock for time budgets.
// Signature: now_ms() -> i64
func (h *HostFunctionsImpl) nowMillis(context.Context) uint64 {
	return uint64(h.now().UnixMilli()) //nolint:gosec // G115: wall clock is positive
}

// export registers the host functions on builder.
func (h *HostFunctionsImpl) export(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export("log_message")

	builder.NewFunctionBuilder().
		WithFunc(h.nowMillis).
		Export("now_ms")
}
