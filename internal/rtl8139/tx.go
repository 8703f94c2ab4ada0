package rtl8139

import (
	"context"

	"github.com/behrlich/kernelcore/internal/bitutil"
	"github.com/behrlich/kernelcore/internal/kerr"
)

// ErrPacketTooShort is returned when Transmit is given an Ethernet frame
// shorter than the 60-byte minimum frame length (without CRC) the wire
// format requires.
var ErrPacketTooShort = kerr.New("rtl8139.Transmit", kerr.CodeInvalidArgument, "packet shorter than 60 bytes")

// ownBit is bit 13 of a transmit status register: set by the device once
// it has consumed the slot's buffer.
const ownBit = 13

// Transmit sends packet on the next round-robin slot (of 4) and blocks
// until the device reports ownership of the slot back to software, or ctx
// is done. Matches original_source/rtl8139.rs's 60-byte minimum check and
// round-robin transmit_idx advance.
func (d *Device) Transmit(ctx context.Context, packet []byte) error {
	if len(packet) < minFrameLen {
		return ErrPacketTooShort
	}

	slot := d.txIdx
	d.txIdx = (d.txIdx + 1) % txSlotCount

	buf := make([]byte, len(packet))
	copy(buf, packet)
	d.txSlots[slot] = buf

	statusOffset := transmitStatusOffset + slot*4
	status := d.regs.ReadU32(statusOffset)
	bitutil.SetBits(&status, 0, 12, uint32(len(packet)))
	bitutil.SetBit(&status, ownBit, false)
	d.regs.WriteU32(statusOffset, status)

	for {
		status := d.regs.ReadU32(statusOffset)
		if bitutil.GetBit(status, ownBit) {
			return nil
		}
		if err := d.waitOnInterrupt(ctx); err != nil {
			return err
		}
	}
}

// CompleteTransmit simulates the device finishing slot's DMA send: it sets
// the OWN bit on that slot's status register and wakes blocked transmitters.
// A real NIC does this itself; kernelcore's simulated device exposes it so
// callers (tests, or a software loopback bridge) can drive completion.
func (d *Device) CompleteTransmit(slot int) {
	statusOffset := transmitStatusOffset + slot*4
	status := d.regs.ReadU32(statusOffset)
	bitutil.SetBit(&status, ownBit, true)
	d.regs.WriteU32(statusOffset, status)
	d.waiters.NotifyAll()
}

// LastTransmitted returns the bytes most recently queued on slot, or nil if
// nothing has been sent on it yet. Intended for tests and for a loopback
// bridge that feeds transmitted frames back into Receive.
func (d *Device) LastTransmitted(slot int) []byte {
	return d.txSlots[slot]
}
