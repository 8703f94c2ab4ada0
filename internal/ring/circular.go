// Package ring provides the bounded queue structures kernelcore's run-queue,
// per-CPU function queues, and UHCI completion-wake queue are built on:
// a plain single-threaded CircularArray for data meant to live behind a lock,
// and lock-free SPSC/MPSC rings for data crossed between goroutines/IRQ
// handlers without blocking. Grounded on
// original_source/util/circular_array.rs and
// original_source/util/lock_free_queue.rs.
package ring

// ErrFull is returned when a bounded ring has no room for another element.
type ErrFull struct{}

func (ErrFull) Error() string { return "ring: full" }

// CircularArray is a plain (non-atomic) bounded FIFO meant to be used behind
// an external lock. No other package in this module uses it; the sleep-wakeup
// staging queue in internal/clock is a plain slice behind an async.Mutex.
type CircularArray[T any] struct {
	buf  []T
	head int
	tail int // sentinel == cap means "full"
}

// NewCircularArray creates a CircularArray with the given fixed capacity.
func NewCircularArray[T any](capacity int) *CircularArray[T] {
	return &CircularArray[T]{buf: make([]T, capacity)}
}

func (c *CircularArray[T]) wrap(i int) int {
	return (i + 1) % len(c.buf)
}

// PushBack appends an element, returning ErrFull if the ring has no capacity
// left.
func (c *CircularArray[T]) PushBack(item T) error {
	n := len(c.buf)
	if c.tail == n {
		return ErrFull{}
	}
	idx := c.tail
	next := c.wrap(c.tail)
	if next == c.head {
		next = n // mark full
	}
	c.tail = next
	c.buf[idx] = item
	return nil
}

// PopFront removes and returns the oldest element, or ok=false if empty.
func (c *CircularArray[T]) PopFront() (item T, ok bool) {
	n := len(c.buf)
	if c.head == c.tail {
		return item, false
	}
	idx := c.head
	wasFull := c.tail == n
	item = c.buf[idx]
	var zero T
	c.buf[idx] = zero
	c.head = c.wrap(c.head)
	if wasFull {
		c.tail = idx
	}
	return item, true
}

// Len reports the number of elements currently stored.
func (c *CircularArray[T]) Len() int {
	n := len(c.buf)
	if c.tail == n {
		return n
	}
	if c.tail >= c.head {
		return c.tail - c.head
	}
	return n - (c.head - c.tail)
}
