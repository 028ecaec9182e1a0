package wasm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

var instanceSeq atomic.Uint64

// InstanceManager creates native module instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctionsImpl

	hostOnce sync.Once
	hostErr  error
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctionsImpl, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Compiled module to instantiate.
	ModuleName string

	// Instance ID (generated when empty).
	InstanceID string

	// Exports resolved eagerly; missing names are reported at instantiation.
	RequiredExports []string
}

// Instance is an instantiated native module.
type Instance struct {
	module  api.Module
	runtime *Runtime

	ID        string
	Name      string
	CreatedAt int64

	mu      sync.Mutex
	exports map[string]api.Function
}

// Instantiate creates a new instance from a compiled module with the host
// imports linked in.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{Module: config.ModuleName}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = fmt.Sprintf("native-%d", instanceSeq.Add(1))
	}

	if err := m.ensureHostModule(ctx); err != nil {
		return nil, err
	}

	m.logger.Info("Instantiating native module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions("_initialize")

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			Module:     config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    module,
		runtime:   m.runtime,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   make(map[string]api.Function),
	}

	for _, name := range config.RequiredExports {
		if instance.Export(name) == nil {
			_ = module.Close(ctx)
			return nil, &FunctionNotFoundError{
				Module: config.ModuleName,
				Export: name,
			}
		}
	}

	m.runtime.StoreInstance(instance)

	m.logger.Info("Native module instantiated",
		zap.String("instance_id", instanceID),
		zap.Int("resolved_exports", len(instance.exports)),
	)

	return instance, nil
}

// ensureHostModule instantiates the host import module once per manager.
func (m *InstanceManager) ensureHostModule(ctx context.Context) error {
	m.hostOnce.Do(func() {
		if m.runtime.runtime.Module(HostModuleName) != nil {
			return
		}
		builder := m.runtime.runtime.NewHostModuleBuilder(HostModuleName)
		m.hostFuncs.export(builder)
		if _, err := builder.Instantiate(ctx); err != nil {
			m.hostErr = fmt.Errorf("failed to instantiate host module: %w", err)
		}
	})
	return m.hostErr
}

// Export returns the named exported function, caching the lookup.
func (i *Instance) Export(name string) api.Function {
	i.mu.Lock()
	defer i.mu.Unlock()

	if fn, ok := i.exports[name]; ok {
		return fn
	}
	fn := i.module.ExportedFunction(name)
	if fn != nil {
		i.exports[name] = fn
	}
	return fn
}

// Memory returns the instance's exported linear memory, or nil.
func (i *Instance) Memory() api.Memory {
	return i.module.Memory()
}

// Close closes the instance and stops tracking it.
func (i *Instance) Close(ctx context.Context) error {
	i.runtime.DeleteInstance(i.ID)
	return i.module.Close(ctx)
}
