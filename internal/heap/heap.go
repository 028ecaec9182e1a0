// Package heap implements a first-fit allocator over a native.Memory.
//
// Allocation metadata is kept on the host side, so the managed region holds
// only payload bytes. When no free span fits a request the memory is grown
// by whole pages; growth may relocate the memory and invalidate every slice
// previously returned by Read.
package heap

import (
	"math"
	"sort"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

// Alignment is the alignment of every returned pointer.
const Alignment = 8

type span struct {
	off  uint32
	size uint32
}

// Heap manages the region [base, memory end) of a linear memory.
type Heap struct {
	mem       native.Memory
	base      uint32
	end       uint32
	free      []span // sorted by offset, coalesced
	allocated map[uint32]uint32
	inUse     uint64
}

// New creates a heap over mem. Bytes below base are left untouched; base is
// rounded up to Alignment and never zero, so a zero pointer always means
// failure.
func New(mem native.Memory, base uint32) *Heap {
	if base < Alignment {
		base = Alignment
	}
	base = alignUp(base)
	h := &Heap{
		mem:       mem,
		base:      base,
		end:       base,
		allocated: make(map[uint32]uint32),
	}
	h.sync()
	return h
}

// Malloc returns a pointer to size bytes, or 0 when the memory cannot grow.
// Zero-size requests get a distinct minimal block.
func (h *Heap) Malloc(size uint32) uint32 {
	if uint64(size) > math.MaxUint32-Alignment {
		return 0
	}
	if size == 0 {
		size = Alignment
	}
	size = alignUp(size)

	if ptr, ok := h.take(size); ok {
		return ptr
	}
	if !h.grow(size) {
		return 0
	}
	ptr, _ := h.take(size)
	return ptr
}

// Free releases ptr. It reports false for pointers it does not own.
func (h *Heap) Free(ptr uint32) bool {
	size, ok := h.allocated[ptr]
	if !ok {
		return false
	}
	delete(h.allocated, ptr)
	h.inUse -= uint64(size)
	h.insert(span{off: ptr, size: size})
	return true
}

// SizeOf returns the rounded size of a live allocation.
func (h *Heap) SizeOf(ptr uint32) (uint32, bool) {
	size, ok := h.allocated[ptr]
	return size, ok
}

// Stats reports current occupancy.
func (h *Heap) Stats() native.HeapStats {
	h.sync()
	return native.HeapStats{
		InUse:       h.inUse,
		Allocations: len(h.allocated),
		Committed:   uint64(h.end - h.base),
	}
}

func (h *Heap) take(size uint32) (uint32, bool) {
	for i, s := range h.free {
		if s.size < size {
			continue
		}
		ptr := s.off
		if s.size == size {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = span{off: s.off + size, size: s.size - size}
		}
		h.allocated[ptr] = size
		h.inUse += uint64(size)
		return ptr, true
	}
	return 0, false
}

// grow extends the memory so that a block of size bytes fits at the end.
func (h *Heap) grow(size uint32) bool {
	h.sync()
	need := uint64(size)
	if n := len(h.free); n > 0 {
		last := h.free[n-1]
		if last.off+last.size == h.end {
			need -= uint64(last.size)
		}
	}
	pages := (need + native.PageSize - 1) / native.PageSize
	if pages == 0 || pages > math.MaxUint32 {
		return false
	}
	if _, ok := h.mem.Grow(uint32(pages)); !ok {
		return false
	}
	h.sync()
	return true
}

// sync adopts memory that appeared past the managed end, whether grown by
// this heap or by someone else.
func (h *Heap) sync() {
	size := h.mem.Size()
	if size <= h.end {
		return
	}
	h.insert(span{off: h.end, size: size - h.end})
	h.end = size
}

func (h *Heap) insert(s span) {
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].off > s.off })
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = s

	// Merge with the following span.
	if i+1 < len(h.free) && h.free[i].off+h.free[i].size == h.free[i+1].off {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	// Merge with the preceding span.
	if i > 0 && h.free[i-1].off+h.free[i-1].size == h.free[i].off {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}

func alignUp(v uint32) uint32 {
	return (v + Alignment - 1) &^ (Alignment - 1)
}
