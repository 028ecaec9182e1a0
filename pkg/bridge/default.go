package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/arena-bridge/internal/config"
	nativemodule "github.com/woxQAQ/arena-bridge/internal/module"
	"github.com/woxQAQ/arena-bridge/internal/native"
	"github.com/woxQAQ/arena-bridge/internal/refnative"
	"github.com/woxQAQ/arena-bridge/internal/wasm"
)

var (
	defaultMu     sync.Mutex
	defaultBridge *Bridge
)

// Initialize builds the native backend named by cfg, wraps it in a bridge
// and installs it as the process default. Calling Initialize again before
// Terminate fails with ErrAlreadyInitialized.
func Initialize(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Bridge, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBridge != nil {
		return nil, ErrAlreadyInitialized
	}
	if cfg == nil {
		cfg = config.Default()
	}

	mod, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{
		WithEpochChecks(cfg.Native.EpochChecks),
		WithLogger(logger),
	}, opts...)

	b, err := New(ctx, mod, opts...)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}

	defaultBridge = b
	return b, nil
}

// Default returns the bridge installed by Initialize, or nil.
func Default() *Bridge {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultBridge
}

// Terminate terminates the default bridge, if any.
func Terminate(ctx context.Context) error {
	b := Default()
	if b == nil {
		return nil
	}
	return b.Terminate(ctx)
}

func clearDefault(b *Bridge) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBridge == b {
		defaultBridge = nil
	}
}

// openBackend builds the configured native module.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (native.Module, error) {
	switch cfg.Native.Backend {
	case config.BackendReference:
		return refnative.New(refnative.Options{
			Workers:      cfg.Native.Workers,
			InitialPages: cfg.Native.InitialPages,
			MaxPages:     cfg.Native.MaxPages,
		}, logger), nil

	case config.BackendWasm:
		rt, err := wasm.NewRuntime(ctx, logger, &wasm.RuntimeConfig{
			MemoryPages:        cfg.Wasm.MemoryPages,
			DebugEnabled:       cfg.Wasm.Debug,
			CacheDir:           cfg.Wasm.CacheDir,
			EnableWASI:         cfg.Wasm.EnableWASI,
			CloseOnContextDone: cfg.Wasm.CloseOnContextDone,
		})
		if err != nil {
			return nil, err
		}
		timeout := time.Duration(cfg.Wasm.ExecutionTimeout) * time.Second
		loaded, err := nativemodule.NewLoader(rt, timeout, logger).Load(ctx, cfg.Native.Manifest)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		return &runtimeModule{Native: loaded.Native, runtime: rt}, nil

	default:
		return nil, &ValidationError{Op: "initialize", Message: fmt.Sprintf("unknown native backend %q", cfg.Native.Backend)}
	}
}

// runtimeModule closes the Wasm runtime together with its module.
type runtimeModule struct {
	*wasm.Native
	runtime *wasm.Runtime
}

func (m *runtimeModule) Close(ctx context.Context) error {
	return errors.Join(m.Native.Close(ctx), m.runtime.Close(ctx))
}
