package lockmgr

import (
	"bytes"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/lockwatch/lib/coordinator"
)

func newTestManager(t *testing.T, reapInterval time.Duration) (*lockMgrImpl, *coordinator.Coordinator) {
	t.Helper()
	c := coordinator.New(coordinator.Options{Sinks: []coordinator.Sink{}})
	lm := newLockManager(c, reapInterval)
	t.Cleanup(func() {
		_ = lm.Close()
		_ = c.Close()
	})
	return lm, c
}

func TestAcquireRelease(t *testing.T) {
	lm, c := newTestManager(t, time.Hour)

	ok, owner, err := lm.AcquireLock("resource:1", 0)
	if err != nil || !ok {
		t.Fatalf("AcquireLock = (%v,%v)", ok, err)
	}
	if len(owner) != ownerIDLength {
		t.Errorf("Expected owner id of %d bytes, got %d", ownerIDLength, len(owner))
	}

	// a second acquisition fails without blocking
	ok, other, err := lm.AcquireLock("resource:1", 0)
	if err != nil || ok || other != nil {
		t.Errorf("Second AcquireLock = (%v,%v,%v), want (false,nil,nil)", ok, other, err)
	}

	// other keys are independent
	if ok, _, _ := lm.AcquireLock("resource:2", 0); !ok {
		t.Error("Independent key could not be acquired")
	}

	released, err := lm.ReleaseLock("resource:1", owner)
	if err != nil || !released {
		t.Fatalf("ReleaseLock = (%v,%v)", released, err)
	}

	if ok, _, _ := lm.AcquireLock("resource:1", 0); !ok {
		t.Error("Released key could not be acquired again")
	}

	// both keys are registered as named locks with the coordinator
	if c.Len() != 2 {
		t.Errorf("Expected 2 registered locks, got %d", c.Len())
	}
}

func TestReleaseWrongOwner(t *testing.T) {
	lm, _ := newTestManager(t, time.Hour)

	_, owner, _ := lm.AcquireLock("k", 0)

	wrong := bytes.Repeat([]byte{1}, ownerIDLength)
	released, err := lm.ReleaseLock("k", wrong)
	if err != nil || released {
		t.Errorf("ReleaseLock with wrong owner = (%v,%v), want (false,nil)", released, err)
	}

	if ok, _, _ := lm.AcquireLock("k", 0); ok {
		t.Error("Lock must still be held after a foreign release attempt")
	}

	if released, _ := lm.ReleaseLock("k", owner); !released {
		t.Error("Owner could not release")
	}
}

func TestReleaseUnknownKey(t *testing.T) {
	lm, _ := newTestManager(t, time.Hour)

	released, err := lm.ReleaseLock("never-acquired", []byte("x"))
	if err != nil || !released {
		t.Errorf("ReleaseLock of a free key = (%v,%v), want (true,nil)", released, err)
	}
}

func TestLeaseExpires(t *testing.T) {
	lm, c := newTestManager(t, 10*time.Millisecond)

	ok, owner, _ := lm.AcquireLock("lease", 1)
	if !ok {
		t.Fatal("AcquireLock failed")
	}

	var current []byte
	deadline := time.Now().Add(3 * time.Second)
	for {
		if ok, o, _ := lm.AcquireLock("lease", 0); ok {
			current = o
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Lease did not expire")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// the old owner lost the lock
	if released, _ := lm.ReleaseLock("lease", owner); released {
		t.Error("Expired owner must not release the new holder's lock")
	}

	if released, _ := lm.ReleaseLock("lease", current); !released {
		t.Fatal("New holder could not release")
	}
	if c.Len() != 0 {
		t.Errorf("Expected no registered locks after release, got %d", c.Len())
	}
}

func TestConcurrentAcquire(t *testing.T) {
	lm, _ := newTestManager(t, time.Hour)

	const goroutines = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			ok, _, err := lm.AcquireLock("contended", 0)
			if err != nil {
				t.Errorf("AcquireLock failed: %v", err)
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one winner, got %d", winners)
	}
}

func TestAcquireAfterClose(t *testing.T) {
	lm, _ := newTestManager(t, time.Hour)
	_ = lm.Close()

	if _, _, err := lm.AcquireLock("k", 0); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

// TestReleasedKeysAreReclaimed verifies that keys leave no table entries behind
func TestReleasedKeysAreReclaimed(t *testing.T) {
	lm, c := newTestManager(t, time.Hour)

	const keys = 1000
	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("req-%d", i)
		ok, owner, err := lm.AcquireLock(key, 0)
		if err != nil || !ok {
			t.Fatalf("AcquireLock(%s) = (%v,%v)", key, ok, err)
		}
		// a failed attempt must not keep the entry alive either
		if ok, _, _ := lm.AcquireLock(key, 0); ok {
			t.Fatalf("Key %s acquired twice", key)
		}
		if released, err := lm.ReleaseLock(key, owner); err != nil || !released {
			t.Fatalf("ReleaseLock(%s) = (%v,%v)", key, released, err)
		}
	}

	if c.Len() != 0 {
		t.Errorf("Expected no registered locks, got %d", c.Len())
	}
	if n := lm.locks.Size(); n != 0 {
		t.Errorf("Expected no key entries, got %d", n)
	}
	if n := len(c.AllLockStats()); n != 0 {
		t.Errorf("Expected no per lock counters, got %d", n)
	}
}

// TestConcurrentReclaim hammers a few keys from many goroutines. Keys are created and
// reclaimed over and over, exclusion must hold and nothing may be left at the end.
func TestConcurrentReclaim(t *testing.T) {
	lm, c := newTestManager(t, time.Hour)

	const (
		goroutines = 8
		keys       = 4
		iterations = 500
	)
	var inside [keys]atomic.Int32
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				k := (g + i) % keys
				key := fmt.Sprintf("shared-%d", k)

				ok, owner, err := lm.AcquireLock(key, 0)
				if err != nil {
					t.Errorf("AcquireLock failed: %v", err)
					return
				}
				if !ok {
					runtime.Gosched()
					continue
				}
				if n := inside[k].Add(1); n != 1 {
					t.Errorf("%d holders of %s", n, key)
				}
				inside[k].Add(-1)
				if released, err := lm.ReleaseLock(key, owner); err != nil || !released {
					t.Errorf("ReleaseLock(%s) = (%v,%v)", key, released, err)
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() != 0 {
		t.Errorf("Expected no registered locks, got %d", c.Len())
	}
	if n := lm.locks.Size(); n != 0 {
		t.Errorf("Expected no key entries, got %d", n)
	}
}
