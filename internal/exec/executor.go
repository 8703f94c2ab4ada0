// Package exec implements the cooperative task executor: a run-queue of
// ready task IDs, a task table, and a main loop that hands ready tasks to
// idle CPUs when a dispatcher is attached. Grounded on
// original_source/future.rs's Executor/KernelWaker/Task, with Rust's
// Future::poll(&mut Context) replaced by a plain PollFunc closure over a
// Waker — Go has no async/await machinery to target, so the task itself
// is just "a function that returns true when done, given a way to
// reschedule itself".
package exec

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/behrlich/kernelcore/internal/kerr"
	"github.com/behrlich/kernelcore/internal/klog"
	"github.com/behrlich/kernelcore/internal/ksync"
	"github.com/behrlich/kernelcore/internal/ring"
	"github.com/behrlich/kernelcore/internal/smp"
)

// TaskID identifies a spawned task.
type TaskID uint64

// PollFunc advances a task. It returns true when the task has completed; a
// task that returns false must have arranged for w.Wake() to be called once
// it is ready to make further progress.
type PollFunc func(w *Waker) bool

// Waker lets a task (or whatever it's waiting on — an IRQ handler, another
// CPU, a timer) reschedule it onto the executor's run-queue.
type Waker struct {
	id       TaskID
	runQueue *ring.MPSC[TaskID]
}

// Wake reschedules the task. A full run-queue means the executor is
// catastrophically behind or misconfigured (§7 resource contention), so
// this panics rather than silently dropping the wake.
func (w *Waker) Wake() {
	if err := w.runQueue.Push(w.id); err != nil {
		kerr.ResourceExhausted("exec.Waker.Wake", fmt.Sprintf("run-queue full, task id=%d", w.id))
	}
}

type taskEntry struct {
	poll  PollFunc
	waker *Waker
}

// runQueueSize is the run-queue's fixed capacity, matching the original's
// lock_free_queue::channel(1024).
const runQueueSize = 1024

// Executor owns the task table and drives it to completion, optionally
// fanning work out across a smp.Dispatcher's registered CPUs.
type Executor struct {
	dispatcher *smp.Dispatcher
	nextID     atomic.Uint64
	tasks      *ksync.Spinlock[map[TaskID]*taskEntry]
	toRun      *ring.MPSC[TaskID]
}

// NewExecutor creates an Executor. dispatcher may be nil, in which case every
// ready task runs inline on the calling goroutine.
func NewExecutor(dispatcher *smp.Dispatcher) *Executor {
	return &Executor{
		dispatcher: dispatcher,
		tasks:      ksync.NewSpinlock(make(map[TaskID]*taskEntry)),
		toRun:      ring.NewMPSC[TaskID](runQueueSize),
	}
}

// Spawn registers poll as a new task and schedules it to run. Callers must
// only close over owned or cloned state — Go has no lifetime checker to
// enforce this, so it is a documented calling convention rather than a
// compile-time guarantee.
func (e *Executor) Spawn(poll PollFunc) TaskID {
	id := TaskID(e.nextID.Add(1) - 1)
	waker := &Waker{id: id, runQueue: e.toRun}

	g := e.tasks.Lock()
	m := g.Get()
	m[id] = &taskEntry{poll: poll, waker: waker}
	g.Set(m)
	g.Unlock()

	if err := e.toRun.Push(id); err != nil {
		kerr.ResourceExhausted("exec.Executor.Spawn", "run-queue full")
	}
	return id
}

// Run drives every spawned task to completion, returning once the task
// table is empty. It is not safe to call Spawn concurrently with a
// different goroutine's Run loop finishing out pending dispatches, but is
// safe to call from within tasks run by Run itself (e.g. dispatched onto a
// CPU by the dispatcher).
func (e *Executor) Run() {
	for {
		g := e.tasks.Lock()
		empty := len(g.Get()) == 0
		g.Unlock()
		if empty {
			return
		}

		var cpus []int
		if e.dispatcher != nil {
			cpus = e.dispatcher.CPUs()
		}
		busy := make([]atomic.Bool, len(cpus))

		toRun := make(map[TaskID]struct{})
		for {
			id, ok := e.toRun.Pop()
			if !ok {
				break
			}
			toRun[id] = struct{}{}
		}

		if len(toRun) == 0 {
			runtime.Gosched()
			continue
		}

		for id := range toRun {
			g := e.tasks.Lock()
			m := g.Get()
			entry, found := m[id]
			delete(m, id)
			g.Set(m)
			g.Unlock()

			if !found {
				klog.Warn("exec: task missing from table", "task", uint64(id))
				continue
			}

			pollOnce := func() {
				if !entry.poll(entry.waker) {
					g := e.tasks.Lock()
					m := g.Get()
					m[id] = entry
					g.Set(m)
					g.Unlock()
				}
			}

			dispatched := false
			for i, cpuID := range cpus {
				if !busy[i].CompareAndSwap(false, true) {
					continue
				}
				idx := i
				err := e.dispatcher.Submit(cpuID, func() {
					pollOnce()
					busy[idx].Store(false)
				})
				if err != nil {
					busy[i].Store(false)
					continue
				}
				dispatched = true
				break
			}

			if !dispatched {
				pollOnce()
			}
		}

		for i := range busy {
			for busy[i].Load() {
				runtime.Gosched()
			}
		}
	}
}
