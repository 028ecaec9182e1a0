package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

// sliceMemory is a minimal growable memory for allocator tests.
type sliceMemory struct {
	buf      []byte
	maxPages uint32
}

func (m *sliceMemory) Size() uint32 { return uint32(len(m.buf)) }

func (m *sliceMemory) Read(offset, n uint32) ([]byte, bool) {
	if uint64(offset)+uint64(n) > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset : offset+n], true
}

func (m *sliceMemory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

func (m *sliceMemory) Grow(delta uint32) (uint32, bool) {
	prev := uint32(len(m.buf) / native.PageSize)
	if prev+delta > m.maxPages {
		return prev, false
	}
	m.buf = append(m.buf, make([]byte, int(delta)*native.PageSize)...)
	return prev, true
}

func TestMallocAlignsAndTracks(t *testing.T) {
	mem := &sliceMemory{maxPages: 4}
	h := New(mem, 0)

	p1 := h.Malloc(3)
	p2 := h.Malloc(17)
	require.NotZero(t, p1)
	require.NotZero(t, p2)
	assert.Zero(t, p1%Alignment)
	assert.Zero(t, p2%Alignment)
	assert.NotEqual(t, p1, p2)

	size, ok := h.SizeOf(p2)
	require.True(t, ok)
	assert.Equal(t, uint32(24), size)

	stats := h.Stats()
	assert.Equal(t, 2, stats.Allocations)
	assert.Equal(t, uint64(32), stats.InUse)
	assert.Equal(t, uint32(native.PageSize), mem.Size())
}

func TestFreeCoalescesAndReuses(t *testing.T) {
	mem := &sliceMemory{maxPages: 4}
	h := New(mem, 0)

	a := h.Malloc(64)
	b := h.Malloc(64)
	c := h.Malloc(64)

	require.True(t, h.Free(a))
	require.True(t, h.Free(b))
	assert.False(t, h.Free(b), "double free must be rejected")
	assert.False(t, h.Free(12345))

	// The merged a+b span satisfies a 128 byte request in place.
	d := h.Malloc(128)
	assert.Equal(t, a, d)

	require.True(t, h.Free(c))
	require.True(t, h.Free(d))
	stats := h.Stats()
	assert.Zero(t, stats.InUse)
	assert.Zero(t, stats.Allocations)
}

func TestMallocGrowsAndFails(t *testing.T) {
	mem := &sliceMemory{maxPages: 2}
	h := New(mem, 0)

	p := h.Malloc(native.PageSize + 1)
	require.NotZero(t, p)
	assert.Equal(t, uint32(2*native.PageSize), mem.Size())

	// No room left and growth refused.
	assert.Zero(t, h.Malloc(native.PageSize))
	assert.Zero(t, h.Malloc(^uint32(0)))
}

func TestHeapRespectsBase(t *testing.T) {
	mem := &sliceMemory{buf: make([]byte, native.PageSize), maxPages: 2}
	h := New(mem, 1000)

	p := h.Malloc(8)
	assert.GreaterOrEqual(t, p, uint32(1000))
	assert.Zero(t, h.Malloc(0)%Alignment)
}

func TestHeapAdoptsExternalGrowth(t *testing.T) {
	mem := &sliceMemory{maxPages: 3}
	h := New(mem, 0)
	require.NotZero(t, h.Malloc(8))

	_, ok := mem.Grow(1)
	require.True(t, ok)

	stats := h.Stats()
	assert.Equal(t, uint64(2*native.PageSize-Alignment), stats.Committed)
}
