package module

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/arena-bridge/internal/wasm"
)

// Module is a loaded native module build.
type Module struct {
	Manifest *Manifest
	Compiled *wasm.CompiledModule
	Native   *wasm.Native
	LoadedAt time.Time
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.Manifest.Name
}

// Version returns the module version.
func (m *Module) Version() string {
	return m.Manifest.Version
}

// Loader loads native module builds from disk.
type Loader struct {
	runtime      *wasm.Runtime
	moduleLoader *wasm.ModuleLoader
	instances    *wasm.InstanceManager
	timeout      time.Duration
	logger       *zap.Logger
}

// NewLoader creates a new native module loader. A positive timeout bounds
// each entry point call.
func NewLoader(runtime *wasm.Runtime, timeout time.Duration, logger *zap.Logger) *Loader {
	return &Loader{
		runtime:      runtime,
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		instances:    wasm.NewInstanceManager(runtime, wasm.NewHostFunctions(logger), logger),
		timeout:      timeout,
		logger:       logger.With(zap.String("component", "module-loader")),
	}
}

// Load parses the manifest in dir, compiles and instantiates its Wasm file
// and checks that every declared entry point is exported.
func (l *Loader) Load(ctx context.Context, dir string) (*Module, error) {
	l.logger.Debug("Loading native module", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading native module",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.Int("entry_points", len(manifest.EntryPoints)),
	)

	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.WasmPath())
	if err != nil {
		return nil, &LoadError{ModuleName: manifest.Name, Err: err}
	}

	inst, err := l.instances.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName:      compiled.Name,
		RequiredExports: manifest.EntryPoints,
	})
	if err != nil {
		return nil, &LoadError{ModuleName: manifest.Name, Err: err}
	}
	inst.Name = manifest.Name

	opts := []wasm.NativeOption{wasm.WithExportNames(manifest.ExportNames())}
	if l.timeout > 0 {
		opts = append(opts, wasm.WithExecutionTimeout(l.timeout))
	}
	mod, err := wasm.NewNative(inst, l.logger, opts...)
	if err != nil {
		_ = inst.Close(ctx)
		return nil, &LoadError{ModuleName: manifest.Name, Err: err}
	}

	l.logger.Info("Native module loaded",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return &Module{
		Manifest: manifest,
		Compiled: compiled,
		Native:   mod,
		LoadedAt: time.Now(),
	}, nil
}
