package refnative

import (
	"github.com/woxQAQ/arena-bridge/internal/native"
)

// Memory is a linear memory that always relocates on growth.
//
// Growth copies the contents into a fresh region and zeroes the old one, so
// any view resolved before the growth reads zeros instead of live data. This
// makes the invalidation hazard deterministic rather than allocator-dependent.
type Memory struct {
	buf      []byte
	maxPages uint32
	grows    int
}

// NewMemory creates a memory of initialPages pages that may grow to maxPages.
func NewMemory(initialPages, maxPages uint32) *Memory {
	if maxPages < initialPages {
		maxPages = initialPages
	}
	return &Memory{
		buf:      make([]byte, int(initialPages)*native.PageSize),
		maxPages: maxPages,
	}
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.buf)) //nolint:gosec // G115: bounded by maxPages
}

// Read returns a view into the memory.
func (m *Memory) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset:end:end], true
}

// Write copies v into the memory.
func (m *Memory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

// Grow relocates the memory into a region deltaPages pages larger.
func (m *Memory) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(m.buf) / native.PageSize) //nolint:gosec // G115: bounded by maxPages
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	if deltaPages == 0 {
		return prev, true
	}
	next := make([]byte, int(prev+deltaPages)*native.PageSize)
	copy(next, m.buf)
	clear(m.buf)
	m.buf = next
	m.grows++
	return prev, true
}

// Grows returns how many times the memory has relocated.
func (m *Memory) Grows() int {
	return m.grows
}
