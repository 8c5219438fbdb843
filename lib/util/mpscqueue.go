package util

import (
	"runtime"
	"sync/atomic"
)

// qnode is a single element of the queue's linked list
type qnode[T any] struct {
	value T
	next  atomic.Pointer[qnode[T]]
}

// MPSCQueue is an unbounded lock-free multi-producer single-consumer queue.
//
// Features and Guarantees:
//
//   - Lock-Free: producers only use atomic CAS operations, Push never blocks
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Thread-Safe writes: any number of goroutines may Push() concurrently
//   - Single Consumer: values are delivered through the channel returned by Recv()
//   - No Strict FIFO Guarantee across producers: ordering between concurrent producers
//     is decided by whichever CAS wins. Values of a single producer stay in order.
type MPSCQueue[T any] struct {
	head   atomic.Pointer[qnode[T]]
	tail   atomic.Pointer[qnode[T]]
	out    chan T
	wake   chan struct{} // capacity 1, coalesces wakeups of the consumer
	closed atomic.Bool

	inflight atomic.Int64 // producers between the closed check and linking their node
}

// NewMPSCQueue creates a new queue and starts its consumer goroutine
func NewMPSCQueue[T any]() *MPSCQueue[T] {
	sentinel := &qnode[T]{}

	q := &MPSCQueue[T]{
		out:  make(chan T),
		wake: make(chan struct{}, 1),
	}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push appends a value to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *MPSCQueue[T]) Push(value T) bool {
	// announce the producer before the closed check, the consumer only exits
	// once no producer is between that check and linking its node
	q.inflight.Add(1)
	defer func() {
		if q.inflight.Add(-1) == 0 && q.closed.Load() {
			q.signal()
		}
	}()

	if q.closed.Load() {
		return false
	}

	n := &qnode[T]{value: value}

	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next != nil {
			// help a producer that linked its node but has not swung the tail yet
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if tail.next.CompareAndSwap(nil, n) {
			// another producer may already have moved the tail, that is fine
			q.tail.CompareAndSwap(tail, n)
			q.signal()
			return true
		}

		// lost the race for tail.next: spin a little at low contention,
		// yield the processor once it gets crowded
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// signal wakes the consumer without blocking. A pending wakeup is never lost,
// because the consumer re-checks the list after every wakeup.
func (q *MPSCQueue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drain forwards all currently linked values to the output channel.
// It returns false if there was nothing to forward.
func (q *MPSCQueue[T]) drain() bool {
	forwarded := false
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			return forwarded
		}
		forwarded = true

		value := next.value
		q.head.Store(next)
		q.out <- value

		// the node is the new sentinel, drop its value reference for the gc
		var zero T
		next.value = zero
	}
}

// consume runs until the queue is closed and empty
func (q *MPSCQueue[T]) consume() {
	defer close(q.out)

	for {
		if q.drain() {
			continue
		}
		if q.closed.Load() && q.inflight.Load() == 0 {
			// every producer that passed the closed check has linked its node by now
			if !q.drain() {
				return
			}
			continue
		}
		<-q.wake
	}
}

// Recv returns the receive-only channel the consumer reads from.
// The channel is closed once the queue is closed and all values were delivered.
func (q *MPSCQueue[T]) Recv() <-chan T {
	return q.out
}

// Close closes the queue for writing.
// Values already in the queue are still delivered.
func (q *MPSCQueue[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// IsClosed returns true if the queue is closed.
func (q *MPSCQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of queued values.
// This is O(n) and should only be used for debugging.
func (q *MPSCQueue[T]) Len() int {
	count := 0
	for n := q.head.Load().next.Load(); n != nil; n = n.next.Load() {
		count++
	}
	return count
}
