package clock

import (
	"context"
	"sort"

	"github.com/behrlich/kernelcore/internal/async"
	"github.com/behrlich/kernelcore/internal/ksync"
)

type pendingWakeup struct {
	tick uint64
	ch   chan struct{}
}

// WakeupRequester lets any task register to be woken once the monotonic
// clock reaches a given tick. Safe for concurrent use. Grounded on
// original_source/sleep.rs's WakeupRequester.
type WakeupRequester struct {
	posted *async.Mutex[[]pendingWakeup]
	notify *async.WakerList
}

// RegisterWakeupTime queues a wakeup for the given absolute tick and returns
// a channel that is closed once WakeupService has moved the request into the
// interrupt-visible table and the RTC interrupt handler has fired for a tick
// >= the requested one.
func (w *WakeupRequester) RegisterWakeupTime(ctx context.Context, tick uint64) (<-chan struct{}, error) {
	ch := make(chan struct{})
	guard, err := w.posted.Lock(ctx)
	if err != nil {
		return nil, err
	}
	guard.Set(append(guard.Get(), pendingWakeup{tick: tick, ch: ch}))
	guard.Unlock()
	w.notify.NotifyAll()
	return ch, nil
}

// WakeupService drains WakeupRequester's posted queue into the
// interrupt-visible table the RTC handler consults. Run in its own
// goroutine for the lifetime of the kernel. Grounded on
// original_source/sleep.rs's WakeupService::service.
type WakeupService struct {
	posted  *async.Mutex[[]pendingWakeup]
	visible *ksync.IRQGuarded[map[uint64][]chan struct{}]
	notify  *async.WakerList
}

// Run blocks draining posted wakeup registrations into the interrupt-visible
// table until ctx is done.
func (s *WakeupService) Run(ctx context.Context) error {
	handle := s.notify.Register()
	defer handle.Release()

	for {
		guard, err := s.posted.Lock(ctx)
		if err != nil {
			return err
		}
		pending := guard.Get()
		guard.Set(nil)
		guard.Unlock()

		if len(pending) > 0 {
			irq := s.visible.Lock()
			m := irq.Get()
			for _, p := range pending {
				m[p.tick] = append(m[p.tick], p.ch)
			}
			irq.Set(m)
			irq.Unlock()
		}

		select {
		case <-handle.C():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// InterruptWakeupList is consulted from the RTC interrupt handler to wake
// every task whose requested tick has now arrived. Grounded on
// original_source/sleep.rs's InterruptWakeupList.
type InterruptWakeupList struct {
	visible *ksync.IRQGuarded[map[uint64][]chan struct{}]
}

// WakeupIfNecessary closes the channel for every registered wakeup whose
// tick is <= the current tick, and removes them from the table.
func (l *InterruptWakeupList) WakeupIfNecessary(currentTick uint64) {
	guard := l.visible.Lock()
	defer guard.Unlock()

	m := guard.Get()
	var due []uint64
	for tick := range m {
		if tick <= currentTick {
			due = append(due, tick)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	for _, tick := range due {
		for _, ch := range m[tick] {
			close(ch)
		}
		delete(m, tick)
	}
}

// NewWakeupHandlers constructs the three cooperating halves of the wakeup
// mechanism: the requester tasks call into, the service goroutine that
// drains it, and the interrupt-context consumer.
func NewWakeupHandlers() (*WakeupRequester, *WakeupService, *InterruptWakeupList) {
	posted := async.NewMutex[[]pendingWakeup](nil)
	visible := ksync.NewIRQGuarded(make(map[uint64][]chan struct{}))
	notify := async.NewWakerList()

	requester := &WakeupRequester{posted: posted, notify: notify}
	service := &WakeupService{posted: posted, visible: visible, notify: notify}
	interruptList := &InterruptWakeupList{visible: visible}

	return requester, service, interruptList
}
