package lockmgr

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/lockwatch/lib/coordinator"
	"github.com/ValentinKolb/lockwatch/lib/mutex"
	"github.com/ValentinKolb/lockwatch/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Logger is the lock manager's package logger
var Logger = logger.GetLogger("lockmgr")

// ErrClosed is returned by AcquireLock after Close
var ErrClosed = errors.New("lockmgr: closed")

const defaultReapInterval = 100 * time.Millisecond

// lease is a currently held key
type lease struct {
	lock     *keyLock
	guard    *mutex.Guard[[]byte]
	owner    []byte
	deadline int64 // unix nanos, 0 if the lease never expires
}

// keyLock is the mutex of one key. refs counts the lease and the acquisitions in flight,
// the entry is removed and its mutex unregistered once refs drops to zero.
type keyLock struct {
	m    *mutex.Mutex[[]byte]
	refs int // guarded by the map's per key Compute
}

type lockMgrImpl struct {
	coord  *coordinator.Coordinator
	locks  *xsync.MapOf[string, *keyLock]
	leases *xsync.MapOf[string, *lease]

	// expiry is guarded by expiryMu, priorities are unix nano deadlines
	expiryMu sync.Mutex
	expiry   *util.MapHeap[string]

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// NewLockManager creates a lock manager whose keyed mutexes are registered with c
func NewLockManager(c *coordinator.Coordinator) ILockManager {
	return newLockManager(c, defaultReapInterval)
}

func newLockManager(c *coordinator.Coordinator, reapInterval time.Duration) *lockMgrImpl {
	lm := &lockMgrImpl{
		coord:  c,
		locks:  xsync.NewMapOf[string, *keyLock](),
		leases: xsync.NewMapOf[string, *lease](),
		expiry: util.NewMapHeap[string](),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go lm.reaper(reapInterval)
	return lm
}

// acquireRef returns the lock of key with an additional reference, creating it on first use
func (lm *lockMgrImpl) acquireRef(key string) *keyLock {
	kl, _ := lm.locks.Compute(key, func(old *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			old = &keyLock{m: mutex.NewWith[[]byte](lm.coord, "lockmgr:"+key, nil)}
		}
		old.refs++
		return old, false
	})
	return kl
}

// releaseRef drops a reference to kl. The last reference removes the entry
// and unregisters its mutex, which is free at that point.
func (lm *lockMgrImpl) releaseRef(key string, kl *keyLock) {
	var reclaim *keyLock
	lm.locks.Compute(key, func(old *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded || old != kl {
			return old, !loaded
		}
		old.refs--
		if old.refs > 0 {
			return old, false
		}
		reclaim = old
		return nil, true
	})

	if reclaim != nil {
		// a poisoned key starts over with a fresh mutex
		_, _ = reclaim.m.IntoInner()
	}
}

func (lm *lockMgrImpl) AcquireLock(key string, timeout uint64) (bool, []byte, error) {
	if lm.closed.Load() {
		return false, nil, ErrClosed
	}

	// Generate owner id before touching the lock, so a failure leaves nothing behind
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, fmt.Errorf("generating owner id: %w", err)
	}

	kl := lm.acquireRef(key)
	guard, err := kl.m.TryLock()
	switch {
	case errors.Is(err, mutex.ErrWouldBlock):
		lm.releaseRef(key, kl)
		return false, nil, nil
	case errors.Is(err, mutex.ErrPoisoned):
		// the previous owner panicked while holding the guard, the key itself is still usable
		Logger.Warningf("acquired poisoned lock %q", key)
	case err != nil:
		lm.releaseRef(key, kl)
		return false, nil, err
	}

	var deadline int64
	if timeout > 0 {
		deadline = time.Now().Add(time.Duration(timeout) * time.Second).UnixNano()
	}

	guard.Set(ownerID)
	// the reference taken above now belongs to the lease
	lm.leases.Store(key, &lease{lock: kl, guard: guard, owner: ownerID, deadline: deadline})

	if deadline != 0 {
		lm.expiryMu.Lock()
		lm.expiry.AddItem(key, deadline)
		lm.expiryMu.Unlock()
	}

	return true, ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	var released *lease
	held := false

	lm.leases.Compute(key, func(old *lease, loaded bool) (*lease, bool) {
		if !loaded {
			return nil, true
		}
		held = true
		if !bytes.Equal(old.owner, ownerID) {
			return old, false
		}
		released = old
		return nil, true
	})

	// Return true if the lock is not held at all
	if !held {
		return true, nil
	}
	// Return false if the lock is owned BY SOMEONE ELSE
	if released == nil {
		return false, nil
	}

	lm.expiryMu.Lock()
	lm.expiry.RemoveByKey(key)
	lm.expiryMu.Unlock()

	released.guard.Set(nil)
	released.guard.Unlock()
	lm.releaseRef(key, released.lock)
	return true, nil
}

// reaper releases expired leases until Close is called
func (lm *lockMgrImpl) reaper(interval time.Duration) {
	defer close(lm.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stop:
			return
		case now := <-ticker.C:
			lm.expire(now)
		}
	}
}

// expire releases all leases whose deadline is not after now
func (lm *lockMgrImpl) expire(now time.Time) {
	for {
		lm.expiryMu.Lock()
		key, deadline, ok := lm.expiry.Peek()
		if !ok || deadline > now.UnixNano() {
			lm.expiryMu.Unlock()
			return
		}
		lm.expiry.PopMin()
		lm.expiryMu.Unlock()

		// the key may have been released and acquired again since it was queued
		if l, ok := lm.leases.Load(key); ok && l.deadline != 0 && l.deadline <= now.UnixNano() {
			if released, _ := lm.ReleaseLock(key, l.owner); released {
				Logger.Infof("lease of lock %q expired", key)
			}
		}
	}
}

func (lm *lockMgrImpl) Close() error {
	if lm.closed.CompareAndSwap(false, true) {
		close(lm.stop)
	}
	<-lm.done
	return nil
}
