package wasm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"
)

var errOutOfRange = errors.New("range outside linear memory")

// CompilationError reports a native module binary wazero rejected.
type CompilationError struct {
	Module string
	Err    error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile native module %q: %v", e.Module, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError reports a compiled module that failed to start.
type InstantiationError struct {
	Module     string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate native module %q as %s: %v", e.Module, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError reports an instantiation of a module that was never
// compiled.
type ModuleNotFoundError struct {
	Module string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("native module %q has not been compiled", e.Module)
}

// FunctionNotFoundError reports a missing export.
type FunctionNotFoundError struct {
	Module string
	Export string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("native module %q does not export %q", e.Module, e.Export)
}

// SignatureError reports an allocator or diagnostic export whose type does
// not match the calling convention.
type SignatureError struct {
	Module      string
	Export      string
	WantParams  []api.ValueType
	WantResults []api.ValueType
	GotParams   []api.ValueType
	GotResults  []api.ValueType
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("native module %q export %q has type %s, want %s",
		e.Module, e.Export,
		signature(e.GotParams, e.GotResults), signature(e.WantParams, e.WantResults))
}

func signature(params, results []api.ValueType) string {
	names := func(types []api.ValueType) string {
		out := make([]string, len(types))
		for i, t := range types {
			out[i] = api.ValueTypeName(t)
		}
		return strings.Join(out, ", ")
	}
	return "(" + names(params) + ") -> (" + names(results) + ")"
}

// MemoryAccessError reports an access outside the module's linear memory.
type MemoryAccessError struct {
	Op     string
	Offset uint32
	Length uint32
	Err    error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("linear memory %s at [%d, +%d): %v", e.Op, e.Offset, e.Length, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// CallError reports an export that trapped or could not be called.
type CallError struct {
	Export string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("native call %s: %v", e.Export, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// TimeoutError reports an export that ran past the execution timeout.
type TimeoutError struct {
	Export string
	Limit  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("native call %s exceeded %v", e.Export, e.Limit)
}
