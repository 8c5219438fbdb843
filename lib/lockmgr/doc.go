// Package lockmgr implements named, ownership-checked locks on top of the
// instrumented mutex. Locks are identified by string keys and created on first use,
// so callers can coordinate on arbitrary resources ("resource:123") without declaring
// a mutex for each of them up front.
//
// Core Functionality:
//   - Non-blocking lock acquisition that returns a random owner ID
//   - Safe release operations that verify ownership
//   - Optional lease timeouts that release forgotten locks automatically
//
// Implementation Approach:
//
//	Every key is backed by one mutex.Mutex registered with the manager's coordinator
//	(named "lockmgr:<key>"), so keyed locks show up in contention reports like any
//	other lock. The mutexes live in an xsync.MapOf. Each entry counts its lease and the
//	acquisitions in flight, the last release removes it and unregisters the mutex, so
//	the coordinator only tracks keys that are currently in use.
//
//	- Lock Acquisition: TryLock on the key's mutex. On success a 256 bit random owner
//	  ID is generated and stored as the mutex value, the guard is kept by the manager.
//
//	- Safe Release: ReleaseLock compares the given owner ID with the stored one and
//	  only then unlocks the guard.
//
//	- Timeouts: a lease with a timeout is put into a MapHeap ordered by deadline.
//	  A background goroutine releases expired leases.
//
// Usage Example:
//
//	lm := lockmgr.NewLockManager(coordinator.Global())
//	defer lm.Close()
//
//	acquired, ownerID, err := lm.AcquireLock("resource:123", 30)
//	if err != nil {
//	    // Handle error
//	}
//	if acquired {
//	    // Use the resource safely
//	    released, err := lm.ReleaseLock("resource:123", ownerID)
//	}
package lockmgr
