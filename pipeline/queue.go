// Package pipeline provides the bounded single-producer/single-consumer
// plumbing that threads commands through the engine's stages in one
// deterministic global order. A stage blocks when its outbound queue is
// full, which is how persistence backpressure reaches the front of the
// pipeline.
package pipeline

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("pipeline: queue closed")

const parkAfterSpins = 256

// Queue is a bounded SPSC ring. Exactly one goroutine may push and
// exactly one may pop; the padding keeps the two cursors off the same
// cache line.
type Queue[T any] struct {
	head   atomic.Uint64 // producer cursor
	_pad1  [56]byte
	tail   atomic.Uint64 // consumer cursor
	_pad2  [56]byte
	closed atomic.Bool

	buf  []T
	mask uint64
}

// NewQueue allocates a ring. Capacity must be a power of two.
func NewQueue[T any](capacity uint64) *Queue[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("pipeline: queue capacity must be a power of two")
	}
	return &Queue[T]{
		buf:  make([]T, capacity),
		mask: capacity - 1,
	}
}

// TryPush enqueues without blocking. Returns false when full.
func (q *Queue[T]) TryPush(v T) bool {
	h := q.head.Load()
	t := q.tail.Load()
	if h-t == uint64(len(q.buf)) {
		return false
	}
	q.buf[h&q.mask] = v
	q.head.Store(h + 1)
	return true
}

// Push blocks until the item is enqueued or the queue is closed.
func (q *Queue[T]) Push(v T) error {
	spins := 0
	for {
		if q.closed.Load() {
			return ErrClosed
		}
		if q.TryPush(v) {
			return nil
		}
		spins = park(spins)
	}
}

// TryPop dequeues without blocking. Returns false when empty.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	t := q.tail.Load()
	h := q.head.Load()
	if t == h {
		return zero, false
	}
	v := q.buf[t&q.mask]
	q.buf[t&q.mask] = zero
	q.tail.Store(t + 1)
	return v, true
}

// Pop blocks until an item arrives. ok is false once the queue is closed
// and fully drained.
func (q *Queue[T]) Pop() (T, bool) {
	spins := 0
	for {
		if v, ok := q.TryPop(); ok {
			return v, true
		}
		if q.closed.Load() {
			// Drain anything published between the empty check and
			// the closed check.
			if v, ok := q.TryPop(); ok {
				return v, true
			}
			var zero T
			return zero, false
		}
		spins = park(spins)
	}
}

// Close stops future pushes. Items already queued remain poppable.
func (q *Queue[T]) Close() {
	q.closed.Store(true)
}

func (q *Queue[T]) Len() int {
	return int(q.head.Load() - q.tail.Load())
}

func park(spins int) int {
	if spins < parkAfterSpins {
		runtime.Gosched()
		return spins + 1
	}
	time.Sleep(50 * time.Microsecond)
	return spins
}
