// Package config loads arena-bridge configuration from defaults, an
// optional config file and ARENA_* environment variables.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Native backends.
const (
	BackendReference = "reference"
	BackendWasm      = "wasm"
)

// EnvPrefix prefixes environment overrides (ARENA_NATIVE_WORKERS).
const EnvPrefix = "ARENA"

type Config struct {
	LogLevel       string       `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	MetricsEnabled bool         `mapstructure:"metrics_enabled"`
	MetricsPort    int          `mapstructure:"metrics_port" validate:"min=1,max=65535"`
	Native         NativeConfig `mapstructure:"native"`
	Wasm           WasmConfig   `mapstructure:"wasm"`
}

// NativeConfig selects and sizes the native module backing the arena.
type NativeConfig struct {
	// Backend is "reference" (in-process) or "wasm" (manifest-described build).
	Backend string `mapstructure:"backend" validate:"oneof=reference wasm"`
	// Worker pool bound for native numeric kernels.
	Workers int `mapstructure:"workers" validate:"min=1"`
	// Arena size at startup and growth ceiling (in pages, 64KB each).
	// Reference backend only; Wasm builds declare their own memory.
	InitialPages uint32 `mapstructure:"initial_pages" validate:"min=1"`
	MaxPages     uint32 `mapstructure:"max_pages" validate:"gtefield=InitialPages"`
	// Fail reads through views captured before an arena growth.
	EpochChecks bool `mapstructure:"epoch_checks"`
	// Directory holding the native module's manifest.yaml.
	Manifest string `mapstructure:"manifest" validate:"required_if=Backend wasm"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages" validate:"max=65536"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Instantiate WASI preview1 imports.
	EnableWASI bool `mapstructure:"enable_wasi"`
	// Abort running Wasm when the call context is done.
	CloseOnContextDone bool `mapstructure:"close_on_context_done"`
	// Entry point execution timeout (seconds, 0 disables).
	ExecutionTimeout int `mapstructure:"execution_timeout" validate:"min=0"`
}

var validate = validator.New()

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads configuration from configPath (optional) layered over defaults,
// applies ARENA_* environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)

	// Native defaults
	v.SetDefault("native.backend", BackendReference)
	v.SetDefault("native.workers", runtime.NumCPU())
	v.SetDefault("native.initial_pages", 16) // 1MB
	v.SetDefault("native.max_pages", 16384)  // 1GB
	v.SetDefault("native.epoch_checks", true)
	v.SetDefault("native.manifest", "")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 16384) // 1GB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.enable_wasi", false)
	v.SetDefault("wasm.close_on_context_done", true)
	v.SetDefault("wasm.execution_timeout", 30)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
