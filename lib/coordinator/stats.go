package coordinator

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Global metrics (VictoriaMetrics)
// --------------------------------------------------------------------------

type coordinatorMetrics struct {
	set          *metrics.Set
	registered   *metrics.Counter
	acquisitions *metrics.Counter
	contended    *metrics.Counter
	analyses     *metrics.Counter
	reports      *metrics.Counter
	poisonings   *metrics.Counter
	wait         *metrics.Histogram
}

func newCoordinatorMetrics(c *Coordinator) *coordinatorMetrics {
	set := metrics.NewSet()
	m := &coordinatorMetrics{
		set:          set,
		registered:   set.NewCounter("lockwatch_registered_total"),
		acquisitions: set.NewCounter("lockwatch_acquisitions_total"),
		contended:    set.NewCounter("lockwatch_contended_total"),
		analyses:     set.NewCounter("lockwatch_analyses_total"),
		reports:      set.NewCounter("lockwatch_reports_total"),
		poisonings:   set.NewCounter("lockwatch_poisonings_total"),
		wait:         set.NewHistogram("lockwatch_acquire_wait_seconds"),
	}
	set.NewGauge("lockwatch_locks", func() float64 {
		return float64(c.Len())
	})
	return m
}

// WritePrometheus writes the coordinator's metrics in Prometheus text format
func (c *Coordinator) WritePrometheus(w io.Writer) {
	c.metrics.set.WritePrometheus(w)
}

// Stats are the coordinator's global counters
type Stats struct {
	Locks        int
	Registered   uint64
	Acquisitions uint64
	Contended    uint64
	Analyses     uint64
	Reports      uint64
	Poisonings   uint64
}

// Stats returns the current global counters
func (c *Coordinator) Stats() Stats {
	return Stats{
		Locks:        c.Len(),
		Registered:   c.metrics.registered.Get(),
		Acquisitions: c.metrics.acquisitions.Get(),
		Contended:    c.metrics.contended.Get(),
		Analyses:     c.metrics.analyses.Get(),
		Reports:      c.metrics.reports.Get(),
		Poisonings:   c.metrics.poisonings.Get(),
	}
}

// --------------------------------------------------------------------------
// Per lock counters (xsync map, read without the table lock)
// --------------------------------------------------------------------------

type lockCounters struct {
	name         string
	acquisitions atomic.Uint64
	contended    atomic.Uint64
	maxWait      atomic.Int64
}

// LockStats are the counters of a single lock
type LockStats struct {
	ID           LockID
	Name         string
	Acquisitions uint64
	Contended    uint64
	MaxWait      time.Duration
}

// LockStats returns the counters of a registered lock
func (c *Coordinator) LockStats(id LockID) (LockStats, bool) {
	lc, ok := c.perLock.Load(id)
	if !ok {
		return LockStats{}, false
	}
	return lc.stats(id), true
}

// AllLockStats returns the counters of all registered locks in no particular order
func (c *Coordinator) AllLockStats() []LockStats {
	all := make([]LockStats, 0, c.perLock.Size())
	c.perLock.Range(func(id LockID, lc *lockCounters) bool {
		all = append(all, lc.stats(id))
		return true
	})
	return all
}

func (lc *lockCounters) stats(id LockID) LockStats {
	return LockStats{
		ID:           id,
		Name:         lc.name,
		Acquisitions: lc.acquisitions.Load(),
		Contended:    lc.contended.Load(),
		MaxWait:      time.Duration(lc.maxWait.Load()),
	}
}

// RecordAcquire accounts a successful acquisition of id that took wait.
// contended is true if at least one attempt found the lock held.
// Must not be called with a TableAccess open.
func (c *Coordinator) RecordAcquire(id LockID, wait time.Duration, contended bool) {
	c.metrics.acquisitions.Inc()
	if contended {
		c.metrics.contended.Inc()
		c.metrics.wait.Update(wait.Seconds())
	}

	lc, ok := c.perLock.Load(id)
	if !ok {
		return
	}
	lc.acquisitions.Add(1)
	if !contended {
		return
	}
	lc.contended.Add(1)
	for {
		old := lc.maxWait.Load()
		if int64(wait) <= old || lc.maxWait.CompareAndSwap(old, int64(wait)) {
			return
		}
	}
}

// RecordPoisoning accounts a guard of id that was released during a panic
func (c *Coordinator) RecordPoisoning(id LockID) {
	c.metrics.poisonings.Inc()
	Logger.Warningf("lock %s poisoned by a panicking holder", id)
}
