package coordinator

import (
	"fmt"
	"time"
)

// LockID is the opaque, process-unique identity of a registered lock
type LockID uint64

func (id LockID) String() string {
	return fmt.Sprintf("#%d", uint64(id))
}

// Status of a lock
type Status uint8

const (
	StatusFree Status = iota
	StatusHeld
)

func (s Status) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusHeld:
		return "held"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// lockState is the table entry of one lock.
// waiters only grows while status is StatusHeld and is cleared by unlock.
type lockState struct {
	name      string
	status    Status
	holder    GoroutineID
	heldSince time.Time
	waiters   map[GoroutineID]time.Time // waiter -> start of its acquire attempt
}

// LockState is a copy of a table entry
type LockState struct {
	ID        LockID
	Name      string
	Status    Status
	Holder    GoroutineID
	HeldSince time.Time
	Waiters   map[GoroutineID]time.Time
}

func (s *lockState) snapshot(id LockID) LockState {
	var waiters map[GoroutineID]time.Time
	if len(s.waiters) > 0 {
		waiters = make(map[GoroutineID]time.Time, len(s.waiters))
		for g, since := range s.waiters {
			waiters[g] = since
		}
	}
	return LockState{
		ID:        id,
		Name:      s.name,
		Status:    s.status,
		Holder:    s.holder,
		HeldSince: s.heldSince,
		Waiters:   waiters,
	}
}

// label returns the name of a lock or its id if it has none
func label(id LockID, name string) string {
	if name == "" {
		return id.String()
	}
	return fmt.Sprintf("%s(%s)", name, id)
}
