// Package async provides the cooperative signalling primitives kernelcore's
// drivers and services are built on: a multi-producer channel, a one-shot
// result slot, a context-aware mutex, a fan-out waker list, and a
// latest-value broadcast slot.
//
// Grounded on original_source/util/async_channel.rs, async_mutex.rs,
// oneshot.rs, waker_list.rs and updated_val.rs. Those types register a
// core::task::Waker with whichever future last polled them and invoke
// wake()/wake_by_ref() from Send/Write; Go has no poll-based future model,
// so each primitive here replaces "register a waker, get polled again" with
// "block on a channel, wake by sending/closing it" — the public shape
// (Send/Recv, Lock/Unlock, notify-one/notify-all, write/wait) is kept
// as the original's registration API, since that shape is what callers
// throughout the driver and TCP code depend on.
package async

import "sync"

// WakerList is a fan-out registry of waiting goroutines: any number of
// listeners may Register, and a writer can wake exactly one (NotifyOne) or
// all of them (NotifyAll,
// used by IRQ handlers to fan a single hardware interrupt out to every task
// blocked on it).
type WakerList struct {
	mu     sync.Mutex
	wakers map[uint64]chan struct{}
	nextID uint64
}

// NewWakerList creates an empty waker list.
func NewWakerList() *WakerList {
	return &WakerList{wakers: make(map[uint64]chan struct{})}
}

// WakerListHandle is a single registration in a WakerList. Release must be
// called (typically via defer) once the handle is no longer needed, mirroring
// the original's Drop impl that removes the entry from the registry.
type WakerListHandle struct {
	id   uint64
	list *WakerList
	ch   chan struct{}
}

// Register creates a new handle. C returns a channel that receives a value
// each time the list is notified while this handle is registered.
func (w *WakerList) Register() *WakerListHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	ch := make(chan struct{}, 1)
	w.wakers[id] = ch
	return &WakerListHandle{id: id, list: w, ch: ch}
}

// C returns the handle's notification channel.
func (h *WakerListHandle) C() <-chan struct{} { return h.ch }

// Release deregisters the handle.
func (h *WakerListHandle) Release() {
	h.list.mu.Lock()
	defer h.list.mu.Unlock()
	delete(h.list.wakers, h.id)
}

// NotifyOne wakes an arbitrary single registered handle, if any are
// registered. Map iteration order is unspecified, matching the original's
// reliance on an arbitrary HashMap entry.
func (w *WakerList) NotifyOne() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.wakers {
		select {
		case ch <- struct{}{}:
		default:
		}
		return
	}
}

// NotifyAll wakes every registered handle.
func (w *WakerList) NotifyAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.wakers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
