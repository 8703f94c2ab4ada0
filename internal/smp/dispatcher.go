// Package smp brings application processors online and dispatches work to
// them through per-CPU function queues. Grounded on
// original_source/multiprocessing.rs's ap_startup/boot_all_cpus sequence and
// on internal/queue/runner.go's one-goroutine-per-worker, pop-from-queue
// loop (teacher).
package smp

import (
	"fmt"
	"sync"

	"github.com/behrlich/kernelcore/internal/ring"
)

// Dispatcher holds one bounded function queue per booted CPU and wakes the
// target core whenever work is submitted.
type Dispatcher struct {
	mu     sync.RWMutex
	queues map[int]*ring.MPSC[func()]
	wake   map[int]chan struct{}
}

// NewDispatcher creates a Dispatcher with no registered CPUs.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		queues: make(map[int]*ring.MPSC[func()]),
		wake:   make(map[int]chan struct{}),
	}
}

// queueSize is the per-CPU function-queue capacity.
const queueSize = 256

func (d *Dispatcher) registerCPU(id int) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[id] = ring.NewMPSC[func()](queueSize)
	ch := make(chan struct{}, 1)
	d.wake[id] = ch
	return ch
}

// CPUs returns the IDs of all currently registered CPUs.
func (d *Dispatcher) CPUs() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]int, 0, len(d.queues))
	for id := range d.queues {
		ids = append(ids, id)
	}
	return ids
}

// Submit pushes fn onto cpuID's function queue and wakes it. Returns an
// error — not a panic — if cpuID is not a registered CPU, since an unknown
// target is a caller-supplied configuration mismatch, not a kernel invariant
// violation.
func (d *Dispatcher) Submit(cpuID int, fn func()) error {
	d.mu.RLock()
	q, ok := d.queues[cpuID]
	wake := d.wake[cpuID]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("smp: cpu %d is not registered", cpuID)
	}
	if err := q.Push(fn); err != nil {
		return fmt.Errorf("smp: cpu %d queue full: %w", cpuID, err)
	}
	select {
	case wake <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the next queued function for cpuID, if any.
func (d *Dispatcher) pop(cpuID int) (func(), bool) {
	d.mu.RLock()
	q := d.queues[cpuID]
	d.mu.RUnlock()
	return q.Pop()
}

func (d *Dispatcher) wakeChan(cpuID int) chan struct{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wake[cpuID]
}
