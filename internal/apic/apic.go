// Package apic models the Local APIC registers kernelcore uses to bring
// application processors online and to send inter-processor interrupts.
// Grounded on original_source/multiprocessing.rs's Apic, InterruptCommand,
// and boot_apic/send_ipi routines — the ICR high/low register offsets, the
// InterruptCommand bitfield layout, and the INIT/deassert/STARTUP/STARTUP
// timing sequence are all ported as-is, with an mmio.Registers-backed
// register file standing in for the raw `*mut u8` the original points at
// 0xfee00000.
package apic

import (
	"context"
	"time"

	"github.com/behrlich/kernelcore/internal/bitutil"
	"github.com/behrlich/kernelcore/internal/clock"
	"github.com/behrlich/kernelcore/internal/mmio"
)

// Register offsets within the Local APIC's MMIO page.
const (
	offsetICRLow  = 0x300
	offsetICRHigh = 0x310
	offsetEOI     = 0xb0
	offsetSIV     = 0xf0
)

// WakeupVector is the IPI vector kernelcore uses to signal "check your
// function queue", per original_source/multiprocessing.rs's WAKEUP_IRQ_ID.
const WakeupVector uint8 = 0x90

type deliveryMode uint32

const (
	deliveryFixed   deliveryMode = 0b000
	deliveryInit    deliveryMode = 0b101
	deliveryStartup deliveryMode = 0b110
)

type level uint32

const (
	levelDeassert level = 0
	levelAssert   level = 1
)

type triggerMode uint32

const (
	triggerEdge  triggerMode = 0
	triggerLevel triggerMode = 1
)

// interruptCommand is the ICR low-register bitfield layout; fields the
// original never varies (destination mode, delivery status, destination
// shorthand) are fixed to Physical/Idle/None in apply rather than named here.
type interruptCommand struct {
	deliveryMode deliveryMode
	level        level
	trigger      triggerMode
	vector       uint8
}

func (c interruptCommand) apply(initial uint32) uint32 {
	ret := initial
	bitutil.SetBits(&ret, 0, 8, uint32(c.vector))
	bitutil.SetBits(&ret, 8, 3, uint32(c.deliveryMode))
	bitutil.SetBits(&ret, 11, 1, 0) // destination mode: physical
	bitutil.SetBits(&ret, 12, 1, 0) // delivery status: idle
	bitutil.SetBits(&ret, 14, 1, uint32(c.level))
	bitutil.SetBits(&ret, 15, 1, uint32(c.trigger))
	bitutil.SetBits(&ret, 18, 2, 0) // destination shorthand: none
	return ret
}

// Apic is a Local APIC register file.
type Apic struct {
	regs *mmio.Registers
}

// New wraps an already-sized mmio.Registers as a Local APIC page (4096
// bytes on real hardware; tests may use a smaller stand-in covering only
// the offsets this package touches).
func New(regs *mmio.Registers) *Apic {
	return &Apic{regs: regs}
}

func (a *Apic) selectTarget(id uint8) {
	high := a.regs.ReadU32(offsetICRHigh)
	bitutil.SetBits(&high, 24, 8, uint32(id))
	a.regs.WriteU32(offsetICRHigh, high)
}

func (a *Apic) waitDelivered(ctx context.Context) error {
	for {
		low := a.regs.ReadU32(offsetICRLow)
		if !bitutil.GetBit(low, 12) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (a *Apic) sendInitIPI(ctx context.Context, id uint8) error {
	a.selectTarget(id)
	low := a.regs.ReadU32(offsetICRLow)
	cmd := interruptCommand{deliveryMode: deliveryInit, level: levelAssert, trigger: triggerLevel}
	a.regs.WriteU32(offsetICRLow, cmd.apply(low))
	return a.waitDelivered(ctx)
}

func (a *Apic) sendDeinitIPI(ctx context.Context, id uint8) error {
	a.selectTarget(id)
	low := a.regs.ReadU32(offsetICRLow)
	cmd := interruptCommand{deliveryMode: deliveryInit, level: levelDeassert, trigger: triggerLevel}
	a.regs.WriteU32(offsetICRLow, cmd.apply(low))
	return a.waitDelivered(ctx)
}

func (a *Apic) sendStartupIPI(id uint8) {
	a.selectTarget(id)
	low := a.regs.ReadU32(offsetICRLow)
	cmd := interruptCommand{deliveryMode: deliveryStartup, level: levelDeassert, trigger: triggerEdge, vector: 0x8}
	a.regs.WriteU32(offsetICRLow, cmd.apply(low))
}

// BootAPIC runs the INIT-deassert-STARTUP-STARTUP sequence for the given
// APIC ID, busy-waiting on monotonic between steps exactly as the original
// does (100ms real-hardware settling time, simulated here against the
// kernel's own tick counter rather than wall-clock time).
func (a *Apic) BootAPIC(ctx context.Context, id uint8, monotonic *clock.Monotonic) error {
	if err := a.sendInitIPI(ctx, id); err != nil {
		return err
	}
	if err := a.sendDeinitIPI(ctx, id); err != nil {
		return err
	}

	busyWait(ctx, 0.1, monotonic)
	a.sendStartupIPI(id)
	busyWait(ctx, 0.1, monotonic)
	a.sendStartupIPI(id)
	return nil
}

func busyWait(ctx context.Context, timeS float32, monotonic *clock.Monotonic) {
	start := monotonic.Get()
	end := start + uint64(timeS*monotonic.TickFreq()+0.999999)
	for monotonic.Get() < end {
		select {
		case <-ctx.Done():
			return
		default:
			time.Sleep(time.Microsecond)
		}
	}
}

// SendIPI sends a fixed-delivery-mode interrupt with the given vector to
// cpuID.
func (a *Apic) SendIPI(cpuID uint8, vector uint8) {
	a.selectTarget(cpuID)
	low := a.regs.ReadU32(offsetICRLow)
	cmd := interruptCommand{deliveryMode: deliveryFixed, level: levelDeassert, trigger: triggerEdge, vector: vector}
	a.regs.WriteU32(offsetICRLow, cmd.apply(low))
}

// WriteEOI signals end-of-interrupt.
func (a *Apic) WriteEOI() {
	a.regs.WriteU32(offsetEOI, 0)
}

// EnableInterrupts sets the APIC software-enable bit in the spurious
// interrupt vector register.
func (a *Apic) EnableInterrupts() {
	val := a.regs.ReadU32(offsetSIV)
	a.regs.WriteU32(offsetSIV, val|0x100)
}
