package smp

import (
	"context"

	"github.com/behrlich/kernelcore/internal/apic"
	"github.com/behrlich/kernelcore/internal/clock"
	"github.com/behrlich/kernelcore/internal/cpu"
)

// Topology models the multi-core machine: a Local APIC for bring-up/IPIs and
// the monotonic clock BootAPIC's settling delays are measured against.
type Topology struct {
	apic      *apic.Apic
	monotonic *clock.Monotonic
}

// NewTopology creates a Topology bound to the given APIC register model and
// tick source.
func NewTopology(a *apic.Apic, monotonic *clock.Monotonic) *Topology {
	return &Topology{apic: a, monotonic: monotonic}
}

// BringUp boots application processors 1..n-1 (CPU 0 is the already-running
// bootstrap processor) and returns a Dispatcher with all n CPUs registered.
// Each AP runs its idle loop on a dedicated, pinned goroutine until ctx is
// canceled.
func (t *Topology) BringUp(ctx context.Context, n int) (*Dispatcher, error) {
	d := NewDispatcher()
	wake := d.registerCPU(0)
	go idleLoop(ctx, d, 0, wake)

	for id := 1; id < n; id++ {
		if err := t.apic.BootAPIC(ctx, uint8(id), t.monotonic); err != nil {
			return nil, err
		}
		wake := d.registerCPU(id)
		// idleLoop runs until ctx is canceled, so there is nothing to Wait
		// for here: BringUp hands each AP its idle loop and moves on once
		// every AP has acknowledged its IPI, the same "fire and forget"
		// shape as CPU 0's own idleLoop goroutine above.
		go func(id int) {
			cpu.Pin(id)
			defer cpu.Unpin()
			idleLoop(ctx, d, id, wake)
		}(id)
	}

	return d, nil
}

// idleLoop pops queued work for cpuID and runs it inline, parking on wake
// (standing in for the WakeupVector IPI) when the queue is empty. Mirrors
// the "pop function or halt" shape of an idle AP.
func idleLoop(ctx context.Context, d *Dispatcher, cpuID int, wake chan struct{}) {
	for {
		if fn, ok := d.pop(cpuID); ok {
			fn()
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
	}
}
