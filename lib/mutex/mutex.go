package mutex

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/lockwatch/lib/coordinator"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the mutex package logger
var Logger = logger.GetLogger("mutex")

// Mutex is an instrumented mutual exclusion lock around a value of type T.
// The zero value is not usable, create mutexes with New, NewNamed or NewWith.
// A Mutex must not be copied after first use.
type Mutex[T any] struct {
	id       coordinator.LockID
	coord    *coordinator.Coordinator
	poisoned atomic.Bool
	consumed atomic.Bool
	value    T
}

// New creates a mutex registered with the global coordinator
func New[T any](value T) *Mutex[T] {
	return NewWith(coordinator.Global(), "", value)
}

// NewNamed creates a named mutex registered with the global coordinator.
// The name shows up in contention reports.
func NewNamed[T any](name string, value T) *Mutex[T] {
	return NewWith(coordinator.Global(), name, value)
}

// NewWith creates a mutex registered with the given coordinator
func NewWith[T any](c *coordinator.Coordinator, name string, value T) *Mutex[T] {
	m := &Mutex[T]{
		id:    c.Register(name),
		coord: c,
		value: value,
	}
	// reclaim the table entry once the mutex is unreachable, no guard can exist then
	runtime.SetFinalizer(m, func(m *Mutex[T]) {
		_ = m.coord.Unregister(m.id)
	})
	return m
}

// ID returns the identity the mutex is registered under
func (m *Mutex[T]) ID() coordinator.LockID {
	return m.id
}

// IsPoisoned reports whether a holder panicked while holding the mutex
func (m *Mutex[T]) IsPoisoned() bool {
	return m.poisoned.Load()
}

// poisonErr returns ErrPoisoned if poisoned is set
func poisonErr(poisoned bool) error {
	if poisoned {
		return ErrPoisoned
	}
	return nil
}

// attempt performs one Free->Held transition through an open access.
// The poison flag is read while the access is still open, so a poisoning
// release is always observed together with the free status it produced.
func (m *Mutex[T]) attempt(access *coordinator.TableAccess, gid coordinator.GoroutineID) (acquired, poisoned bool) {
	ok, err := access.TryLock(m.id, gid)
	if err != nil {
		access.Close()
		panic(m.misuse(err))
	}
	if !ok {
		return false, false
	}
	return true, m.poisoned.Load()
}

// TryLock makes a single non-blocking attempt to acquire the mutex.
//
// It returns ErrWouldBlock and a nil guard if the mutex is held. If the mutex is
// poisoned, it returns the guard together with ErrPoisoned.
func (m *Mutex[T]) TryLock() (*Guard[T], error) {
	access := m.coord.BeginAccess()
	acquired, poisoned := m.attempt(access, coordinator.CurrentGoroutine())
	access.Close()

	if !acquired {
		return nil, ErrWouldBlock
	}
	m.coord.RecordAcquire(m.id, 0, false)
	return m.newGuard(), poisonErr(poisoned)
}

// Lock blocks until the mutex is acquired and returns the guard.
// If the mutex is poisoned, the guard is returned together with ErrPoisoned.
//
// Lock polls the coordinator and never fails. After the coordinator's wait threshold
// it registers the calling goroutine as a waiter, triggers contention analysis and
// yields between attempts.
func (m *Mutex[T]) Lock() (*Guard[T], error) {
	gid := coordinator.CurrentGoroutine()
	threshold := m.coord.WaitThreshold()
	start := time.Now()
	contended := false

	for {
		access := m.coord.BeginAccess()
		acquired, poisoned := m.attempt(access, gid)
		if acquired {
			access.Close()
			m.coord.RecordAcquire(m.id, time.Since(start), contended)
			return m.newGuard(), poisonErr(poisoned)
		}
		contended = true

		if time.Since(start) <= threshold {
			access.Close()
			continue
		}

		if err := access.Subscribe(m.id, gid, start); err != nil {
			access.Close()
			panic(m.misuse(err))
		}
		m.coord.Analyse(access)
		access.Close()
		runtime.Gosched()
	}
}

// With locks the mutex, calls fn with a pointer to the value and unlocks it again.
// If fn panics, the mutex is poisoned and the panic propagates.
// The returned error is ErrPoisoned if the mutex was already poisoned before.
func (m *Mutex[T]) With(fn func(value *T)) error {
	g, err := m.Lock()
	defer g.Unlock()
	fn(g.Value())
	return err
}

// GetMut returns a pointer to the value without locking.
// It is only safe when the caller knows that no other goroutine uses the mutex,
// e.g. during setup or teardown. ErrPoisoned is returned alongside the pointer.
func (m *Mutex[T]) GetMut() (*T, error) {
	if m.consumed.Load() {
		panic(m.misuse(coordinator.ErrUnknownLock))
	}
	return &m.value, poisonErr(m.poisoned.Load())
}

// IntoInner unregisters the mutex and returns its value. The mutex must not be held
// and must not be used afterwards. ErrPoisoned is returned alongside the value.
func (m *Mutex[T]) IntoInner() (T, error) {
	if !m.consumed.CompareAndSwap(false, true) {
		panic(m.misuse(coordinator.ErrUnknownLock))
	}
	if err := m.coord.Unregister(m.id); err != nil {
		m.consumed.Store(false)
		panic(m.misuse(err))
	}
	runtime.SetFinalizer(m, nil)

	value := m.value
	var zero T
	m.value = zero
	return value, poisonErr(m.poisoned.Load())
}

// misuse builds the panic message for programming errors
func (m *Mutex[T]) misuse(err error) string {
	switch {
	case errors.Is(err, coordinator.ErrUnknownLock):
		return fmt.Sprintf("mutex: use of consumed mutex %s", m.id)
	case errors.Is(err, coordinator.ErrLockHeld):
		return fmt.Sprintf("mutex: IntoInner on held mutex %s", m.id)
	default:
		return fmt.Sprintf("mutex: %v", err)
	}
}
