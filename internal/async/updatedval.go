package async

import (
	"context"
	"sync"
)

// UpdatedValue holds the latest value of T plus a generation counter; Wait
// blocks until the value changes from whatever generation the caller last
// observed, then returns the new value. Used by the sleep-wakeup service and
// link-state tracking, where many tasks want to block on "this changed"
// rather than exchange discrete messages. Grounded on
// original_source/util/updated_val.rs.
type UpdatedValue[T any] struct {
	mu         sync.Mutex
	val        T
	generation uint64
	waiters    map[uint64]chan struct{}
	nextID     uint64
}

// NewUpdatedValue creates an UpdatedValue holding the given initial value.
func NewUpdatedValue[T any](val T) *UpdatedValue[T] {
	return &UpdatedValue[T]{val: val, waiters: make(map[uint64]chan struct{})}
}

// Write stores val, advances the generation, and wakes every blocked
// waiter.
func (u *UpdatedValue[T]) Write(val T) {
	u.mu.Lock()
	u.val = val
	u.generation++
	waiters := u.waiters
	u.waiters = make(map[uint64]chan struct{})
	u.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// Read returns the current value without waiting.
func (u *UpdatedValue[T]) Read() T {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.val
}

// Wait blocks until the value is written at least once after Wait is
// called, then returns the new value.
func (u *UpdatedValue[T]) Wait(ctx context.Context) (T, error) {
	u.mu.Lock()
	startGen := u.generation
	id := u.nextID
	u.nextID++
	ch := make(chan struct{})
	u.waiters[id] = ch
	u.mu.Unlock()

	select {
	case <-ch:
		u.mu.Lock()
		v := u.val
		u.mu.Unlock()
		return v, nil
	case <-ctx.Done():
		u.mu.Lock()
		if u.generation != startGen {
			v := u.val
			u.mu.Unlock()
			return v, nil
		}
		delete(u.waiters, id)
		u.mu.Unlock()
		var zero T
		return zero, ctx.Err()
	}
}
