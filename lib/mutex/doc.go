// Package mutex provides Mutex, an instrumented exclusive lock that owns the value
// it protects. Every lock and unlock goes through a coordinator.Coordinator, which
// turns silent hangs into contention and deadlock reports.
//
// Usage Example:
//
//	counter := mutex.NewNamed("counter", 0)
//
//	g, err := counter.Lock()
//	if errors.Is(err, mutex.ErrPoisoned) {
//	    // a previous holder panicked, the value may be inconsistent
//	}
//	defer g.Unlock()
//	*g.Value()++
//
// Acquisition:
//
//	Lock polls: each attempt opens a coordinator access, tries the Free->Held transition
//	and closes the access again. For the first WaitThreshold (one second by default) the
//	loop retries immediately. After that every failed attempt registers the goroutine as a
//	waiter, runs the coordinator's analysis and yields the processor. Lock never gives up
//	and there is no ordering between competing goroutines.
//
//	TryLock makes exactly one attempt and reports ErrWouldBlock if the lock is held.
//
// Poisoning:
//
//	If Guard.Unlock runs as a directly deferred call (defer g.Unlock()) while the goroutine
//	panics, the mutex is marked poisoned before it is released, and the panic continues.
//	Poisoning is sticky and advisory: Lock, TryLock, GetMut and IntoInner still hand out
//	the value but return ErrPoisoned alongside it. With wraps the pattern for callers that
//	prefer a callback.
//
// Misuse such as unlocking a guard twice or using a mutex after IntoInner panics,
// like sync.Mutex does on "unlock of unlocked mutex".
package mutex
