package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

var arenaSeq atomic.Uint64

// Stats describes arena occupancy.
type Stats struct {
	// Committed is the current size of the linear memory in bytes.
	Committed uint64
	// InUse is the number of bytes held by live allocations, when the
	// native module reports it.
	InUse uint64
	// Allocations is the number of live allocations, when reported.
	Allocations int
	// Epoch counts observed size changes of the linear memory.
	Epoch uint64
	// LiveHandles is the number of unreleased handles.
	LiveHandles int
	// PendingReleases is the number of unreachable handles whose release
	// waits for the next drain.
	PendingReleases int
}

// Arena tracks the linear memory of one native module.
//
// Every growth may relocate the memory, so raw slices resolved before it
// read stale data afterwards. The arena bumps its epoch whenever it
// observes a size change; values captured at an older epoch are stale.
type Arena struct {
	id     uint64
	mod    native.Module
	size   uint32
	epoch  uint64
	checks bool
	closed bool
}

func newArena(mod native.Module, checks bool) *Arena {
	return &Arena{
		id:     arenaSeq.Add(1),
		mod:    mod,
		size:   mod.Memory().Size(),
		checks: checks,
	}
}

// ID returns a process-unique arena id.
func (a *Arena) ID() uint64 {
	return a.id
}

// Epoch returns the current epoch.
func (a *Arena) Epoch() uint64 {
	a.sync()
	return a.epoch
}

// EpochChecks reports whether stale view reads fail.
func (a *Arena) EpochChecks() bool {
	return a.checks
}

// Size returns the current memory size in bytes.
func (a *Arena) Size() uint32 {
	a.sync()
	return a.size
}

// Stats returns current occupancy. Handle counts are filled by the bridge.
func (a *Arena) Stats() Stats {
	a.sync()
	s := Stats{
		Committed: uint64(a.size),
		Epoch:     a.epoch,
	}
	if acc, ok := a.mod.(native.Accountant); ok {
		hs := acc.HeapStats()
		s.InUse = hs.InUse
		s.Allocations = hs.Allocations
	}
	return s
}

// sync bumps the epoch when the memory size changed since the last look.
func (a *Arena) sync() {
	if size := a.mod.Memory().Size(); size != a.size {
		a.size = size
		a.epoch++
	}
}

// read resolves a live view of n bytes at offset.
func (a *Arena) read(offset uint32, n int) ([]byte, error) {
	if a.closed {
		return nil, ErrTerminated
	}
	a.sync()
	if n < 0 || uint64(offset)+uint64(n) > uint64(a.size) {
		return nil, &ValidationError{
			Op:      "arena read",
			Message: fmt.Sprintf("range [%d, %d) outside arena of %d bytes", offset, uint64(offset)+uint64(n), a.size),
		}
	}
	raw, ok := a.mod.Memory().Read(offset, uint32(n)) //nolint:gosec // G115: bounded by arena size
	if !ok {
		return nil, &ValidationError{Op: "arena read", Message: fmt.Sprintf("cannot read %d bytes at %d", n, offset)}
	}
	return raw, nil
}

// write copies data into the arena at offset.
func (a *Arena) write(offset uint32, data []byte) error {
	if a.closed {
		return ErrTerminated
	}
	if !a.mod.Memory().Write(offset, data) {
		return &ValidationError{
			Op:      "arena write",
			Message: fmt.Sprintf("cannot write %d bytes at %d", len(data), offset),
		}
	}
	return nil
}

// checkEpoch fails when captured is older than the current epoch and epoch
// checks are enabled.
func (a *Arena) checkEpoch(captured uint64) error {
	if a.closed {
		return ErrTerminated
	}
	if !a.checks {
		return nil
	}
	if current := a.Epoch(); current != captured {
		return &StaleViewError{Captured: captured, Current: current}
	}
	return nil
}
