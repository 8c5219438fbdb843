package mutex

import "errors"

var (
	// ErrWouldBlock is returned by TryLock if the mutex is held
	ErrWouldBlock = errors.New("mutex: would block")
	// ErrPoisoned is returned together with the value if a previous holder panicked
	ErrPoisoned = errors.New("mutex: poisoned by a panicking holder")
)
