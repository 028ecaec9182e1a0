// Package module loads native module builds described by a manifest.yaml.
package module

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/arena-bridge/internal/wasm"
)

// ManifestFile is the manifest file name inside a module directory.
const ManifestFile = "manifest.yaml"

// Manifest represents the native module manifest.yaml structure.
type Manifest struct {
	Name        string     `yaml:"name" validate:"required"`
	Version     string     `yaml:"version" validate:"required,semver"`
	Description string     `yaml:"description"`
	Wasm        WasmConfig `yaml:"wasm"`

	// Entry points that must be exported; checked at instantiation.
	EntryPoints []string `yaml:"entry_points" validate:"dive,required"`

	Author  string `yaml:"author"`
	License string `yaml:"license"`

	dir string
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file" validate:"required"`

	// Export names for the allocator and diagnostics; empty keeps the
	// conventional name.
	Exports ExportConfig `yaml:"exports"`
}

// ExportConfig overrides allocator and diagnostic export names.
type ExportConfig struct {
	Malloc       string `yaml:"malloc"`
	Free         string `yaml:"free"`
	ErrorMessage string `yaml:"error_message"`
}

var manifestValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseManifest reads, parses and validates manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields and that the Wasm file exists.
func (m *Manifest) Validate() error {
	if err := manifestValidator.Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed on '%s' rule", fe.Tag()),
			}
		}
		return &ManifestValidationError{Path: m.Path(), Message: err.Error()}
	}

	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// fieldPath strips the struct name from a validator namespace, leaving the
// YAML key path ("wasm.file").
func fieldPath(namespace string) string {
	_, rest, ok := strings.Cut(namespace, ".")
	if !ok {
		return namespace
	}
	return rest
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}

// ExportNames returns the allocator and diagnostic export names, filling
// unset entries with the conventional names.
func (m *Manifest) ExportNames() wasm.ExportNames {
	names := wasm.DefaultExportNames()
	if m.Wasm.Exports.Malloc != "" {
		names.Malloc = m.Wasm.Exports.Malloc
	}
	if m.Wasm.Exports.Free != "" {
		names.Free = m.Wasm.Exports.Free
	}
	if m.Wasm.Exports.ErrorMessage != "" {
		names.ErrorMessage = m.Wasm.Exports.ErrorMessage
	}
	return names
}
