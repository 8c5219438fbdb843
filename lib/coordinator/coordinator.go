package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/lockwatch/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Logger is the coordinator's package logger
var Logger = logger.GetLogger("coordinator")

var (
	// ErrUnknownLock is returned for ids that were never registered or already unregistered
	ErrUnknownLock = errors.New("coordinator: unknown lock")
	// ErrLockHeld is returned when unregistering a lock that is currently held
	ErrLockHeld = errors.New("coordinator: lock is held")
	// ErrAccessClosed is returned when a TableAccess is used after Close
	ErrAccessClosed = errors.New("coordinator: table access already closed")
)

// Coordinator owns the table of lock states shared by all mutexes registered with it.
//
// Thread-safety: all methods are safe for concurrent use.
type Coordinator struct {
	// mu guards everything up to the next blank line
	mu         sync.Mutex
	locks      map[LockID]*lockState
	next       LockID
	lastReport time.Time
	lastCycles map[string]struct{}

	opts Options

	reports *util.MPSCQueue[Report]
	done    chan struct{}
	closed  atomic.Bool

	metrics *coordinatorMetrics
	perLock *xsync.MapOf[LockID, *lockCounters]
}

// New creates a coordinator and starts its report delivery goroutine.
// Zero durations in opts fall back to the defaults, use a negative
// ReportInterval to dispatch every report.
func New(opts Options) *Coordinator {
	if opts.WaitThreshold <= 0 {
		opts.WaitThreshold = DefaultWaitThreshold
	}
	if opts.ReportInterval == 0 {
		opts.ReportInterval = DefaultReportInterval
	}

	c := &Coordinator{
		locks:      make(map[LockID]*lockState),
		lastCycles: make(map[string]struct{}),
		opts:       opts,
		reports:    util.NewMPSCQueue[Report](),
		done:       make(chan struct{}),
		perLock:    xsync.NewMapOf[LockID, *lockCounters](),
	}
	c.metrics = newCoordinatorMetrics(c)

	go c.deliver()

	return c
}

var (
	globalOnce sync.Once
	global     *Coordinator
)

// Global returns the process-wide coordinator, creating it with DefaultOptions on first use.
// The global coordinator is never closed.
func Global() *Coordinator {
	globalOnce.Do(func() {
		global = New(DefaultOptions())
	})
	return global
}

// WaitThreshold returns the configured slow path threshold
func (c *Coordinator) WaitThreshold() time.Duration {
	return c.opts.WaitThreshold
}

// Options returns the options the coordinator was created with
func (c *Coordinator) Options() Options {
	return c.opts
}

// --------------------------------------------------------------------------
// Identity management
// --------------------------------------------------------------------------

// Register allocates a fresh identity and inserts a free lock state for it.
// Identities start at 1 and are never reused.
func (c *Coordinator) Register(name string) LockID {
	c.mu.Lock()
	c.next++
	id := c.next
	c.locks[id] = &lockState{name: name}
	c.mu.Unlock()

	c.perLock.Store(id, &lockCounters{name: name})
	c.metrics.registered.Inc()
	Logger.Debugf("registered lock %s", label(id, name))

	return id
}

// Unregister removes the table entry of a lock. The identity is not handed out again.
// Fails with ErrLockHeld if the lock is currently held.
func (c *Coordinator) Unregister(id LockID) error {
	c.mu.Lock()
	st, ok := c.locks[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownLock, id)
	}
	if st.status == StatusHeld {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLockHeld, label(id, st.name))
	}
	delete(c.locks, id)
	c.mu.Unlock()

	c.perLock.Delete(id)
	Logger.Debugf("unregistered lock %s", label(id, st.name))
	return nil
}

// Len returns the number of registered locks
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// Snapshot returns a copy of all table entries ordered by id
func (c *Coordinator) Snapshot() []LockState {
	access := c.BeginAccess()
	defer access.Close()
	return access.Snapshot()
}

// --------------------------------------------------------------------------
// Report delivery
// --------------------------------------------------------------------------

// dispatch queues a report for the sinks. Must not be called with mu held.
func (c *Coordinator) dispatch(r Report) {
	if !c.reports.Push(r) {
		Logger.Debugf("dropping report, coordinator is closed")
		return
	}
	c.metrics.reports.Inc()
}

// deliver runs in its own goroutine until the report queue is closed and drained
func (c *Coordinator) deliver() {
	defer close(c.done)

	for r := range c.reports.Recv() {
		for _, sink := range c.opts.Sinks {
			c.report(sink, r)
		}
	}
}

// report calls a sink and keeps the delivery goroutine alive if it panics
func (c *Coordinator) report(sink Sink, r Report) {
	defer func() {
		if p := recover(); p != nil {
			Logger.Errorf("sink %T panicked: %v", sink, p)
		}
	}()
	sink.Report(r)
}

// Close stops report delivery after all queued reports reached the sinks.
// Registered locks keep working, later reports are dropped.
func (c *Coordinator) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.reports.Close()
	}
	<-c.done
	return nil
}
