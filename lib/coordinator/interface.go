package coordinator

import (
	"github.com/petermattis/goid"
)

// GoroutineID identifies the goroutine that holds or waits for a lock.
// 0 means unknown.
type GoroutineID int64

// CurrentGoroutine returns the id of the calling goroutine
func CurrentGoroutine() GoroutineID {
	return GoroutineID(goid.Get())
}

// Sink receives contention reports.
//
// Report is called from the coordinator's delivery goroutine, one report at a time
// and never while the table lock is held. Implementations may block, but a blocked sink
// delays all later reports of the same coordinator.
type Sink interface {
	Report(r Report)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(r Report)

// Report calls f(r)
func (f SinkFunc) Report(r Report) {
	f(r)
}
