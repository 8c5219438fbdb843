// Package util provides the small concurrent and statistical building blocks
// used by the coordinator, the lock manager and the command line tools.
//
// The package contains:
//   - mpscqueue: A lock-free Multi-Producer Single-Consumer (MPSC) queue. The coordinator
//     uses it to hand contention reports from lock holders to a single delivery goroutine,
//     so that no diagnostic sink ever runs while the coordinator's table lock is held
//   - mapheap: A priority queue that also supports key-based access, used by the
//     lock manager to expire leases in deadline order
//   - statistics: Summary statistics and a distribution quality score, used by the
//     stress tool to show how (un)evenly an unfair lock was handed out to workers
//
// None of the components depend on the rest of the module.
package util
