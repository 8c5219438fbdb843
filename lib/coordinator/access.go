package coordinator

import (
	"fmt"
	"sort"
	"time"
)

// TableAccess is an open, exclusive session on the coordinator's lock table.
// It is returned by BeginAccess with the internal lock already taken and must be
// closed exactly once, as fast as possible.
//
// A TableAccess must not be shared between goroutines.
type TableAccess struct {
	c       *Coordinator
	pending *Report
	closed  bool
}

// BeginAccess takes the coordinator's internal lock and returns the access to the table.
// The caller must call Close, usually directly after one or two operations.
func (c *Coordinator) BeginAccess() *TableAccess {
	c.mu.Lock()
	return &TableAccess{c: c}
}

// Close releases the internal lock. A report produced by Analyse during this access
// is queued for delivery after the lock was released. Calling Close twice is a no-op.
func (a *TableAccess) Close() {
	if a.closed {
		return
	}
	a.closed = true
	pending := a.pending
	a.pending = nil
	a.c.mu.Unlock()

	if pending != nil {
		a.c.dispatch(*pending)
	}
}

func (a *TableAccess) entry(id LockID) (*lockState, error) {
	if a.closed {
		return nil, ErrAccessClosed
	}
	st, ok := a.c.locks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLock, id)
	}
	return st, nil
}

// TryLock performs the Free->Held transition for id. It reports true if the lock
// was free and is now held by owner, false if it was already held (nothing changes).
func (a *TableAccess) TryLock(id LockID, owner GoroutineID) (bool, error) {
	st, err := a.entry(id)
	if err != nil {
		return false, err
	}
	if st.status == StatusHeld {
		return false, nil
	}
	st.status = StatusHeld
	st.holder = owner
	st.heldSince = time.Now()
	return true, nil
}

// Subscribe records waiter as waiting for id since the given time.
// It is a no-op if the lock is free. Repeated calls keep the first timestamp.
func (a *TableAccess) Subscribe(id LockID, waiter GoroutineID, since time.Time) error {
	st, err := a.entry(id)
	if err != nil {
		return err
	}
	if st.status != StatusHeld {
		return nil
	}
	if st.waiters == nil {
		st.waiters = make(map[GoroutineID]time.Time)
	}
	if _, ok := st.waiters[waiter]; !ok {
		st.waiters[waiter] = since
	}
	return nil
}

// Unlock performs the Held->Free transition for id and clears its waiters.
// Unlocking a free lock is a no-op.
func (a *TableAccess) Unlock(id LockID) error {
	st, err := a.entry(id)
	if err != nil {
		return err
	}
	st.status = StatusFree
	st.holder = 0
	st.heldSince = time.Time{}
	st.waiters = nil
	return nil
}

// State returns a copy of the entry of id
func (a *TableAccess) State(id LockID) (LockState, error) {
	st, err := a.entry(id)
	if err != nil {
		return LockState{}, err
	}
	return st.snapshot(id), nil
}

// Snapshot returns a copy of all entries ordered by id.
// It returns nil on a closed access.
func (a *TableAccess) Snapshot() []LockState {
	if a.closed {
		return nil
	}
	ids := a.c.sortedIDs()
	states := make([]LockState, 0, len(ids))
	for _, id := range ids {
		states = append(states, a.c.locks[id].snapshot(id))
	}
	return states
}

// sortedIDs returns all registered ids in ascending order. Caller holds mu.
func (c *Coordinator) sortedIDs() []LockID {
	ids := make([]LockID, 0, len(c.locks))
	for id := range c.locks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
