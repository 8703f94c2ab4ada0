package uhci

import (
	"context"

	"github.com/behrlich/kernelcore/internal/bitutil"
	"github.com/behrlich/kernelcore/internal/clock"
	"github.com/behrlich/kernelcore/internal/mmio"
)

// Register offsets within the UHCI I/O range, per original_source's
// USB_CMD_OFFSET/USB_STATUS_OFFSET/FRAME_NUMBER_OFFSET/FRAME_LIST_OFFSET.
const (
	offsetCmd        = 0x00
	offsetStatus     = 0x02
	offsetInterrupts = 0x04
	offsetFrameNum   = 0x06
	offsetFrameList  = 0x08
)

// cmdBits encodes the USBCMD register's individual flags.
type cmdBits struct {
	maxPacket, configure, softwareDebug           bool
	globalResume, globalSuspend, globalReset      bool
	hostControllerReset, run                      bool
}

func (c cmdBits) encode() uint16 {
	var v uint16
	bitutil.SetBit(&v, 7, c.maxPacket)
	bitutil.SetBit(&v, 6, c.configure)
	bitutil.SetBit(&v, 5, c.softwareDebug)
	bitutil.SetBit(&v, 4, c.globalResume)
	bitutil.SetBit(&v, 3, c.globalSuspend)
	bitutil.SetBit(&v, 2, c.globalReset)
	bitutil.SetBit(&v, 1, c.hostControllerReset)
	bitutil.SetBit(&v, 0, c.run)
	return v
}

// portStatus models a root-port status/control register.
type portStatus uint16

func (p *portStatus) setReset(v bool)            { bitutil.SetBit((*uint16)(p), 9, v) }
func (p *portStatus) setLowSpeed(v bool)          { bitutil.SetBit((*uint16)(p), 8, v) }
func (p *portStatus) setResumeDetected(v bool)    { bitutil.SetBit((*uint16)(p), 6, v) }
func (p *portStatus) setPortEnableChanged(v bool) { bitutil.SetBit((*uint16)(p), 3, v) }
func (p *portStatus) setPortEnabled(v bool)       { bitutil.SetBit((*uint16)(p), 2, v) }
func (p *portStatus) setConnectedChanged(v bool)  { bitutil.SetBit((*uint16)(p), 1, v) }
func (p portStatus) portEnabled() bool            { return bitutil.GetBit(uint16(p), 2) }
func (p portStatus) connected() bool              { return bitutil.GetBit(uint16(p), 0) }

// Controller owns a Schedule and the register range driving it.
type Controller struct {
	regs      *mmio.Registers
	schedule  *Schedule
	monotonic *clock.Monotonic
	requester *clock.WakeupRequester
}

// NewController wires a Schedule to an I/O range, expected to be at least
// 20 bytes (the original's request_io_range(io_base, 20)).
func NewController(regs *mmio.Registers, monotonic *clock.Monotonic, requester *clock.WakeupRequester) *Controller {
	return &Controller{
		regs:      regs,
		schedule:  NewSchedule(),
		monotonic: monotonic,
		requester: requester,
	}
}

// Schedule returns the controller's TD/QH schedule.
func (c *Controller) Schedule() *Schedule { return c.schedule }

func (c *Controller) writeCmd(bits cmdBits) {
	c.regs.WriteU16(offsetCmd, bits.encode())
}

// reset runs the global-reset / host-controller-reset sequence, sleeping
// between steps exactly as the original does.
func (c *Controller) reset(ctx context.Context) error {
	c.writeCmd(cmdBits{globalReset: true})
	if err := clock.Sleep(ctx, c.monotonic, c.requester, 0.01); err != nil {
		return err
	}

	c.writeCmd(cmdBits{})
	if err := clock.Sleep(ctx, c.monotonic, c.requester, 0.05); err != nil {
		return err
	}

	c.writeCmd(cmdBits{hostControllerReset: true})
	return clock.Sleep(ctx, c.monotonic, c.requester, 0.01)
}

func (c *Controller) setFrameListOffset() {
	// The original writes the frame list's physical address; kernelcore's
	// simulated controller has no address space to hand it, so it records
	// that the frame list has been installed via a sentinel nonzero value.
	c.regs.WriteU32(offsetFrameList, 1)
}

func (c *Controller) setFrameNumber(v uint16) { c.regs.WriteU16(offsetFrameNum, v) }
func (c *Controller) clearStatus()            { c.regs.WriteU16(offsetStatus, 0x1f) }

func (c *Controller) enable() {
	c.writeCmd(cmdBits{maxPacket: true, configure: true, run: true})
}

func (c *Controller) enableInterrupts() {
	c.regs.WriteU16(offsetInterrupts, 1<<2)
}

// Init runs the controller bring-up sequence: reset, install the frame
// list, clear status, enable the card, enable interrupts.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.reset(ctx); err != nil {
		return err
	}
	c.setFrameListOffset()
	c.setFrameNumber(0)
	c.clearStatus()
	c.enable()
	c.enableInterrupts()
	return nil
}

// ResetPort runs the root-port reset sequence at portOffset and reports
// whether a device was found connected and enabled afterward. Matches the
// original's reset_port's careful bit-by-bit status writes (which avoid
// clobbering the connection-change bit per the FYSOS UHCI driver notes it
// cites).
func (c *Controller) ResetPort(ctx context.Context, portOffset int) (bool, error) {
	val := portStatus(c.regs.ReadU16(portOffset))
	val.setReset(true)
	c.regs.WriteU16(portOffset, uint16(val))
	if err := clock.Sleep(ctx, c.monotonic, c.requester, 0.05); err != nil {
		return false, err
	}

	val = portStatus(c.regs.ReadU16(portOffset))
	val.setConnectedChanged(false)
	val.setPortEnabled(false)
	val.setPortEnableChanged(false)
	val.setResumeDetected(false)
	val.setLowSpeed(false)
	val.setReset(false)
	c.regs.WriteU16(portOffset, uint16(val))
	if err := clock.Sleep(ctx, c.monotonic, c.requester, 0.005); err != nil {
		return false, err
	}

	val = portStatus(c.regs.ReadU16(portOffset))
	val.setConnectedChanged(true)
	c.regs.WriteU16(portOffset, uint16(val))
	val.setPortEnabled(true)
	c.regs.WriteU16(portOffset, uint16(val))
	if err := clock.Sleep(ctx, c.monotonic, c.requester, 0.005); err != nil {
		return false, err
	}

	val = portStatus(c.regs.ReadU16(portOffset))
	return val.portEnabled() && val.connected(), nil
}
