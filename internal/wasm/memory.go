package wasm

import (
	"github.com/tetratelabs/wazero/api"
)

// Memory provides copying accessors over a native module's linear memory.
//
// Slices returned by api.Memory.Read alias the live region and go stale on
// the next growth, so everything leaving this type is a copy.
type Memory struct {
	mem api.Memory
}

// NewMemory creates a memory helper.
func NewMemory(mem api.Memory) *Memory {
	return &Memory{mem: mem}
}

// ReadCString reads a NUL-terminated string of at most maxLen bytes. The
// read is clipped to the memory size.
func (m *Memory) ReadCString(ptr uint32, maxLen uint32) (string, error) {
	size := m.mem.Size()
	if ptr >= size {
		return "", &MemoryAccessError{Op: "read_cstring", Offset: ptr, Length: maxLen, Err: errOutOfRange}
	}
	if maxLen > size-ptr {
		maxLen = size - ptr
	}
	buf, _ := m.mem.Read(ptr, maxLen)

	end := len(buf)
	for i, b := range buf {
		if b == 0 {
			end = i
			break
		}
	}
	return string(buf[:end]), nil
}

// ReadString reads length bytes as a string.
func (m *Memory) ReadString(ptr uint32, length uint32) (string, error) {
	buf, ok := m.mem.Read(ptr, length)
	if !ok {
		return "", &MemoryAccessError{Op: "read_string", Offset: ptr, Length: length, Err: errOutOfRange}
	}
	return string(buf), nil
}
