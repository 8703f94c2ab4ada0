// Package uhci drives a simulated UHCI USB host controller: a 1024-entry
// frame list whose every slot points at one master queue head, a TD/QH
// chain builder, and the controller and root-port reset sequences. No device
// enumeration is done: nothing assigns an address or a configuration to a
// device found on a port. Grounded line-for-line
// on original_source/usb/uhci.rs's TransferDescriptor/QueueHead bitfields,
// LinkPointer encode/decode, chain_tds, and the reset/init/reset_port
// sequence.
//
// The original's LinkPointer is a raw pointer into the TD/QH it addresses;
// kernelcore has no physical address space to point into, and a Go slice
// that grows can relocate its backing array out from under a stored
// pointer. Link therefore addresses TDs by a stable index into a
// fixed-capacity arena (never resized after NewSchedule), the same
// arena-relative-offset approach internal/heap uses for the same reason.
package uhci

import "github.com/behrlich/kernelcore/internal/bitutil"

// Pid identifies a USB token packet type.
type Pid int

const (
	PidSetup Pid = iota
	PidIn
	PidOut
)

func (p Pid) encode() uint8 {
	switch p {
	case PidSetup:
		return 0b0010_1101
	case PidOut:
		return 0b1110_0001
	default: // PidIn
		return 0b0110_1001
	}
}

// Packet is a single USB transaction to schedule.
type Packet struct {
	Pid         Pid
	Address     uint8
	Endpoint    uint8
	DataToggle  bool
	Data        []byte
}

// linkKind tags what a Link addresses.
type linkKind uint8

const (
	linkNone linkKind = iota
	linkTD
	linkQH
)

// link is the decoded form of a UHCI link-pointer word: terminate bit,
// TD-vs-QH select bit, and (for TD/QH) the arena index the original would
// have stored as a 28-bit shifted physical address.
type link struct {
	kind linkKind
	idx  int
}

func encodeLink(word *uint32, l link) {
	switch l.kind {
	case linkNone:
		bitutil.SetBit(word, 0, true)
	case linkTD:
		bitutil.SetBit(word, 0, false)
		bitutil.SetBit(word, 1, false)
		bitutil.SetBits(word, 4, 28, uint32(l.idx))
	case linkQH:
		bitutil.SetBit(word, 0, false)
		bitutil.SetBit(word, 1, true)
		bitutil.SetBits(word, 4, 28, uint32(l.idx))
	}
}

func decodeLink(word uint32) link {
	if bitutil.GetBit(word, 0) {
		return link{kind: linkNone}
	}
	idx := int(bitutil.GetBits(word, 4, 28))
	if bitutil.GetBit(word, 1) {
		return link{kind: linkQH, idx: idx}
	}
	return link{kind: linkTD, idx: idx}
}

// td is the 8-word UHCI Transfer Descriptor layout.
type td [8]uint32

func (t *td) linkPointer() link          { return decodeLink(t[0]) }
func (t *td) setLinkPointer(l link)      { encodeLink(&t[0], l) }
func (t *td) setLowSpeed(v bool)         { bitutil.SetBit(&t[1], 26, v) }
func (t *td) setInterruptOnComplete(v bool) { bitutil.SetBit(&t[1], 24, v) }
func (t *td) status() uint8              { return uint8(bitutil.GetBits(t[1], 16, 8)) }
func (t *td) setStatus(v uint8)          { bitutil.SetBits(&t[1], 16, 8, uint32(v)) }

// active reports whether the controller still owns this descriptor (bit
// 23 overall, bit 7 of the status byte).
func (t *td) active() bool { return bitutil.GetBit(t[1], 23) }

func (t *td) setMaxLen(n int) {
	v := n - 1
	if n == 0 {
		v = 0x7ff
	}
	bitutil.SetBits(&t[2], 21, 11, uint32(v))
}

// maxLen decodes the 11-bit MaxLen field back into a packet length, undoing
// setMaxLen's off-by-one/0x7ff-means-zero encoding.
func (t *td) maxLen() int {
	v := bitutil.GetBits(t[2], 21, 11)
	if v == 0x7ff {
		return 0
	}
	return int(v) + 1
}

func (t *td) setDataToggle(v bool) { bitutil.SetBit(&t[2], 19, v) }
func (t *td) dataToggle() bool     { return bitutil.GetBit(t[2], 19) }

func (t *td) setEndpoint(v uint8) { bitutil.SetBits(&t[2], 15, 4, uint32(v)) }
func (t *td) endpoint() uint8     { return uint8(bitutil.GetBits(t[2], 15, 4)) }

func (t *td) setAddress(v uint8) { bitutil.SetBits(&t[2], 8, 7, uint32(v)) }
func (t *td) address() uint8     { return uint8(bitutil.GetBits(t[2], 8, 7)) }

func (t *td) setPid(v uint8) { bitutil.SetBits(&t[2], 0, 8, uint32(v)) }
func (t *td) pid() uint8     { return uint8(bitutil.GetBits(t[2], 0, 8)) }

// qh is the 2-word UHCI Queue Head layout.
type qh [2]uint32

func (q *qh) setHeadLink(l link)    { encodeLink(&q[0], l) }
func (q *qh) setElementLink(l link) { encodeLink(&q[1], l) }
func (q *qh) elementLink() link     { return decodeLink(q[1]) }
