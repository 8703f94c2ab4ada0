package rtl8139

import (
	"context"
	"encoding/binary"
)

// rxHeaderSize is the 2-byte status word plus 2-byte length word the device
// prepends to every received frame in the ring.
const rxHeaderSize = 4

// Receive blocks until a frame is available in the ring (or ctx is done)
// and returns a copy of its payload. Mirrors get_packet/increment_capr's
// CAPR-trails-CBR cursor arithmetic, including the dword-alignment mask.
func (d *Device) Receive(ctx context.Context) ([]byte, error) {
	for {
		capr := d.regs.ReadU16(caprOffset)
		cbr := d.regs.ReadU16(cbrOffset)
		if capr+16 == cbr {
			if err := d.waitOnInterrupt(ctx); err != nil {
				return nil, err
			}
			continue
		}

		start := capr + 16
		length := binary.LittleEndian.Uint16(d.rxBuf[start+2 : start+4])
		payload := make([]byte, length)
		copy(payload, d.rxBuf[int(start)+rxHeaderSize:int(start)+rxHeaderSize+int(length)])

		capr = (capr + length + 4 + 3) &^ 0b11
		d.regs.WriteU16(caprOffset, capr)

		return payload, nil
	}
}

// InjectPacket writes payload into the receive ring at the current CBR
// cursor and advances CBR, simulating the device DMA'ing a received frame
// in and signaling ROK. Real hardware does this from the wire; kernelcore's
// simulated device exposes it for loopback and test use.
func (d *Device) InjectPacket(payload []byte) {
	cbr := d.regs.ReadU16(cbrOffset)
	start := int(cbr)

	binary.LittleEndian.PutUint16(d.rxBuf[start:start+2], 0x1) // ROK
	binary.LittleEndian.PutUint16(d.rxBuf[start+2:start+4], uint16(len(payload)))
	copy(d.rxBuf[start+rxHeaderSize:start+rxHeaderSize+len(payload)], payload)

	total := rxHeaderSize + len(payload)
	padded := (total + 3) &^ 0b11
	d.regs.WriteU16(cbrOffset, cbr+uint16(padded))

	status := d.regs.ReadU16(interruptStatOffset)
	d.regs.WriteU16(interruptStatOffset, status|0x1)
	d.waiters.NotifyAll()
}
