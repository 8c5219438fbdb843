package mutex

import (
	"fmt"
	"sync/atomic"
)

// Guard proves exclusive access to the value of a Mutex until Unlock is called.
// It is produced only by a successful Lock or TryLock.
//
// A guard may be unlocked from another goroutine than the one that acquired it,
// but poisoning is only detected by the goroutine that defers Unlock.
type Guard[T any] struct {
	m        *Mutex[T]
	released atomic.Bool
}

func (m *Mutex[T]) newGuard() *Guard[T] {
	return &Guard[T]{m: m}
}

func (g *Guard[T]) check() {
	if g.released.Load() {
		panic(fmt.Sprintf("mutex: access through released guard of %s", g.m.id))
	}
}

// Get returns a copy of the protected value
func (g *Guard[T]) Get() T {
	g.check()
	return g.m.value
}

// Set replaces the protected value
func (g *Guard[T]) Set(value T) {
	g.check()
	g.m.value = value
}

// Value returns a pointer to the protected value.
// The pointer must not be used after Unlock.
func (g *Guard[T]) Value() *T {
	g.check()
	return &g.m.value
}

// Unlock releases the mutex.
//
// When Unlock is deferred directly (defer g.Unlock()) and the goroutine is panicking,
// the mutex is poisoned before it is released and the panic is resumed with the same
// value. Unlocking a guard twice panics.
func (g *Guard[T]) Unlock() {
	if p := recover(); p != nil {
		g.release(true)
		panic(p)
	}
	g.release(false)
}

// release performs the Held->Free transition, the poison flag is set first
func (g *Guard[T]) release(poison bool) {
	if !g.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("mutex: unlock of released guard of %s", g.m.id))
	}
	m := g.m

	if poison {
		m.poisoned.Store(true)
		m.coord.RecordPoisoning(m.id)
	}

	access := m.coord.BeginAccess()
	err := access.Unlock(m.id)
	access.Close()
	if err != nil {
		panic(m.misuse(err))
	}
}
