// Package coordinator implements the process-wide registry behind every
// instrumented mutex. It owns the authoritative table of lock states and is the
// only place where lock status transitions happen.
//
// Core Functionality:
//   - Identity allocation: Register hands out process-unique LockIDs that are never reused
//   - Table access: BeginAccess takes the coordinator's internal lock and returns a
//     TableAccess through which a caller performs the Free->Held compare-and-set,
//     records itself as a waiter or flips a lock back to Free
//   - Contention analysis: Analyse makes one bounded pass over the table, collects locks
//     that have waiters and searches the goroutine wait-for graph for cycles
//   - Diagnostics: reports are delivered to pluggable Sinks
//
// Implementation Approach:
//
//	The table is a plain map guarded by a single sync.Mutex. The mutex is held only for
//	table lookups, mutations and the analysis pass, never while a caller spins, yields or
//	runs application code. Acquirers poll: they open an access, attempt the CAS, close the
//	access and retry.
//
//	Reports produced by Analyse are parked on the TableAccess and pushed into a lock-free
//	MPSC queue when the access is closed. A single delivery goroutine per coordinator
//	drains the queue and calls the sinks, so a slow or blocking sink never stalls a lock
//	holder and can never deadlock against the table lock.
//
//	Dispatch is rate limited by Options.ReportInterval. A report that contains a wait-for
//	cycle not seen in the previous dispatch bypasses the limit.
//
// Metrics:
//
//	Every coordinator owns a VictoriaMetrics metrics.Set (see WritePrometheus) with global
//	counters and an acquire wait histogram. Per-lock counters are kept in an xsync.MapOf
//	so they can be read without touching the table lock.
//
// Global coordinator:
//
//	Global returns a lazily created coordinator that logs its reports. Mutexes created
//	with mutex.New use it. Tests and libraries that want isolation create their own
//	coordinator with New and pass it explicitly.
package coordinator
