package bridge

import "time"

// Call outcomes reported to an Observer.
const (
	OutcomeOK          = "ok"
	OutcomeNativeError = "native_error"
	OutcomeHostError   = "host_error"
)

// Release causes reported to an Observer.
const (
	CauseExplicit  = "explicit"
	CauseCleanup   = "cleanup"
	CauseUnwind    = "unwind"
	CauseTerminate = "terminate"
)

// Observer receives bridge activity. Implement it to export metrics.
type Observer interface {
	// ObserveCall is called after each native entry point call.
	ObserveCall(entryPoint string, elapsed time.Duration, outcome string)

	// ObserveArena is called after operations that may change the arena.
	ObserveArena(committed, inUse, epoch uint64)

	// ObserveHandles is called when the live handle count changes.
	ObserveHandles(live int)

	// ObserveRelease is called once per released handle.
	ObserveRelease(cause string)
}

// NoopObserver discards all observations.
type NoopObserver struct{}

func (NoopObserver) ObserveCall(string, time.Duration, string) {}
func (NoopObserver) ObserveArena(uint64, uint64, uint64)       {}
func (NoopObserver) ObserveHandles(int)                        {}
func (NoopObserver) ObserveRelease(string)                     {}
