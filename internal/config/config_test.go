package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, 9090, cfg.MetricsPort)

	assert.Equal(t, BackendReference, cfg.Native.Backend)
	assert.Equal(t, runtime.NumCPU(), cfg.Native.Workers)
	assert.Equal(t, uint32(16), cfg.Native.InitialPages)
	assert.Equal(t, uint32(16384), cfg.Native.MaxPages)
	assert.True(t, cfg.Native.EpochChecks)
	assert.Empty(t, cfg.Native.Manifest)

	assert.Equal(t, uint32(16384), cfg.Wasm.MemoryPages)
	assert.True(t, cfg.Wasm.CloseOnContextDone)
	assert.Equal(t, 30, cfg.Wasm.ExecutionTimeout)

	assert.Equal(t, cfg, Default())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
metrics_enabled: true
metrics_port: 8080
native:
  backend: wasm
  manifest: ./native/scran
  workers: 2
  epoch_checks: false
wasm:
  memory_pages: 512
  enable_wasi: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 8080, cfg.MetricsPort)
	assert.Equal(t, BackendWasm, cfg.Native.Backend)
	assert.Equal(t, "./native/scran", cfg.Native.Manifest)
	assert.Equal(t, 2, cfg.Native.Workers)
	assert.False(t, cfg.Native.EpochChecks)
	assert.Equal(t, uint32(512), cfg.Wasm.MemoryPages)
	assert.True(t, cfg.Wasm.EnableWASI)

	// Unset keys keep their defaults.
	assert.Equal(t, uint32(16), cfg.Native.InitialPages)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ARENA_NATIVE_WORKERS", "3")
	t.Setenv("ARENA_LOG_LEVEL", "warn")
	t.Setenv("ARENA_NATIVE_EPOCH_CHECKS", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Native.Workers)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.Native.EpochChecks)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown log level", content: "log_level: verbose\n"},
		{name: "unknown backend", content: "native:\n  backend: cuda\n"},
		{name: "wasm without manifest", content: "native:\n  backend: wasm\n"},
		{name: "zero workers", content: "native:\n  workers: 0\n"},
		{name: "max below initial", content: "native:\n  initial_pages: 64\n  max_pages: 8\n"},
		{name: "port out of range", content: "metrics_port: 70000\n"},
		{name: "negative timeout", content: "wasm:\n  execution_timeout: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}
