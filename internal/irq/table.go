// Package irq dispatches interrupt vectors to registered handlers and
// issues inter-processor interrupts. Grounded on the vector-keyed dispatch
// loosely implied by original_source/interrupts.rs's IrqId-keyed handler
// registry (crate::interrupts::InterruptHandlerData, referenced from
// io/rtc.rs) and on multiprocessing.rs's Apic::send_ipi for IPI delivery.
package irq

import (
	"sync"

	"github.com/behrlich/kernelcore/internal/apic"
	"github.com/behrlich/kernelcore/internal/klog"
)

// VectorWakeup is the IPI vector for signalling a parked AP that its
// function queue is non-empty. smp.Dispatcher does not send it: Submit wakes
// the target core's idle loop through a Go channel instead.
const VectorWakeup = apic.WakeupVector

// CPUState is the minimal per-core context passed to a handler; real
// hardware would carry a saved register frame, kernelcore's simulation only
// needs the core's identity.
type CPUState struct {
	ID int
}

// Handler processes an interrupt for the given CPU.
type Handler func(*CPUState)

// Table maps vector numbers to handlers and can send IPIs through an
// attached Apic.
type Table struct {
	mu       sync.RWMutex
	handlers map[uint8]Handler
	apic     *apic.Apic
}

// NewTable creates an empty dispatch table. apic may be nil in tests that
// only exercise Dispatch.
func NewTable(a *apic.Apic) *Table {
	return &Table{handlers: make(map[uint8]Handler), apic: a}
}

// Register installs h as the handler for vector, replacing any existing
// handler.
func (t *Table) Register(vector uint8, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[vector] = h
}

// Dispatch invokes the handler registered for vector. An unregistered
// vector is a hardware/configuration mismatch, not a programmer invariant
// violation, so it is logged and dropped rather than panicking.
func (t *Table) Dispatch(vector uint8, cpu *CPUState) {
	t.mu.RLock()
	h, ok := t.handlers[vector]
	t.mu.RUnlock()

	if !ok {
		klog.Warn("irq: dropping unrouted vector", "vector", vector)
		return
	}
	h(cpu)
}

// SendIPI sends vector to targetCPU via the attached Apic.
func (t *Table) SendIPI(targetCPU uint8, vector uint8) {
	t.apic.SendIPI(targetCPU, vector)
}
