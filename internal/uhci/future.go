package uhci

import (
	"context"

	"github.com/behrlich/kernelcore/internal/kerr"
)

// Future resolves once every TD appended by the AppendWork call that
// created it has been serviced by the controller. Mirrors
// original_source/usb/uhci.rs's UhciFuture, with poll(&mut Context)
// replaced by a blocking Wait that re-registers into the schedule's
// pending-waker ring each time a TD is still active, exactly as the
// original re-pushes its Waker onto waker_tx on every Pending poll.
type Future struct {
	schedule *Schedule
	ids      []int
}

// Wait blocks until every TD in the chain has cleared its active bit (or
// ctx is done), then returns the resulting buffers in submission order.
func (f *Future) Wait(ctx context.Context) ([][]byte, error) {
	for {
		allDone := true
		f.schedule.mu.Lock()
		for _, id := range f.ids {
			if f.schedule.arena[id].td.active() {
				allDone = false
				break
			}
		}
		f.schedule.mu.Unlock()

		if allDone {
			break
		}

		ch := make(chan struct{})
		if err := f.schedule.pendingWakers.Push(ch); err != nil {
			kerr.ResourceExhausted("uhci.Future.Wait", "pending-waker ring full")
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.schedule.mu.Lock()
	defer f.schedule.mu.Unlock()
	ret := make([][]byte, len(f.ids))
	for i, id := range f.ids {
		ret[i] = f.schedule.arena[id].buf
	}
	return ret, nil
}
