// Package cpu pins the calling goroutine to a single OS thread and CPU,
// standing in for an x86 core's fixed identity during SMP bring-up.
// Grounded on internal/queue/runner.go's ioLoop, which locks its goroutine
// to an OS thread and sets CPU affinity because the kernel records one
// thread per ublk queue; kernelcore repurposes the same pattern so a "CPU"
// in the simulated topology is a goroutine with a genuinely fixed identity,
// not just a logical index.
package cpu

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/behrlich/kernelcore/internal/klog"
)

// Pin locks the calling goroutine to its current OS thread and attempts to
// set its scheduling affinity to exactly cpuID. Must be called from the
// goroutine that is to become that CPU, before it starts doing any work; the
// caller is responsible for calling Unpin (typically via defer) before the
// goroutine exits.
//
// A failed affinity call is logged and otherwise ignored, matching the
// teacher's "continue without affinity — not fatal" handling: simulated
// cores still function correctly without real affinity, just without the
// isolation guarantee.
func Pin(cpuID int) {
	runtime.LockOSThread()

	var mask unix.CPUSet
	mask.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		klog.Warn("cpu: failed to set affinity", "cpu", cpuID, "err", err)
	}
}

// Unpin releases the OS thread lock taken by Pin.
func Unpin() {
	runtime.UnlockOSThread()
}

// Validate returns an error if cpuID is out of range for a topology of
// numCPUs cores.
func Validate(cpuID, numCPUs int) error {
	if cpuID < 0 || cpuID >= numCPUs {
		return fmt.Errorf("cpu: id %d out of range [0,%d)", cpuID, numCPUs)
	}
	return nil
}
