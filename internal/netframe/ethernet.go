// Package netframe implements the pure wire codecs the TCP state machine and
// the NIC drivers build on: Ethernet (with 802.1Q tag detection), ARP,
// IPv4, UDP, and the shared one's-complement checksum. Grounded line-for-line
// on original_source/net/mod.rs.
package netframe

import (
	"encoding/binary"

	"github.com/behrlich/kernelcore/internal/kerr"
)

// IPv4Addr is a four-byte IPv4 address.
type IPv4Addr [4]byte

// EtherType identifies the payload protocol carried by an Ethernet frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806

	dot1qTPID = 0x8100

	headerLenNoDot1q = 14
	dot1qLen         = 4

	// minFrameLen is the minimum Ethernet frame length before the
	// hardware-appended CRC; the original pads to 64 total (60 + 4 CRC).
	minFrameLen = 60
)

// EthernetParams describes a frame to generate.
type EthernetParams struct {
	DestMAC   [6]byte
	SourceMAC [6]byte
	EtherType EtherType
	Payload   []byte
}

// GenerateEthernet builds an Ethernet II frame, zero-padding the payload up
// to minFrameLen if needed. It does not append a CRC: real hardware appends
// it on transmit.
func GenerateEthernet(p EthernetParams) []byte {
	length := 6 + 6 + 2 + len(p.Payload)
	ret := make([]byte, 0, length)
	ret = append(ret, p.DestMAC[:]...)
	ret = append(ret, p.SourceMAC[:]...)
	ret = binary.BigEndian.AppendUint16(ret, uint16(p.EtherType))
	ret = append(ret, p.Payload...)
	if len(ret) < minFrameLen {
		pad := make([]byte, minFrameLen-len(ret))
		ret = append(ret, pad...)
	}
	return ret
}

// Ethernet is a parsed, read-only view over an Ethernet frame's bytes
// (including its trailing 4-byte CRC).
type Ethernet struct {
	packet []byte
}

// ParseEthernet validates packet as a well-formed Ethernet II frame
// (optionally 802.1Q-tagged) and returns a view over it. Grounded on
// EthernetFrame::new, including its dot1q-aware minimum-length check.
func ParseEthernet(packet []byte) (Ethernet, error) {
	f := Ethernet{packet: packet}
	if len(packet) < headerLenNoDot1q {
		return Ethernet{}, kerr.New("netframe.ParseEthernet", kerr.CodeProtocolDrop, "frame shorter than minimum Ethernet header")
	}
	if f.hasDot1q() && len(packet) < headerLenNoDot1q+dot1qLen {
		return Ethernet{}, kerr.New("netframe.ParseEthernet", kerr.CodeProtocolDrop, "dot1q frame shorter than tagged header")
	}
	if len(packet)-4 <= f.payloadOffset() {
		return Ethernet{}, kerr.New("netframe.ParseEthernet", kerr.CodeProtocolDrop, "frame too short to hold payload and CRC")
	}
	return f, nil
}

func (f Ethernet) hasDot1q() bool {
	return binary.BigEndian.Uint16(f.packet[12:14]) == dot1qTPID
}

// DestinationMAC returns the frame's destination MAC.
func (f Ethernet) DestinationMAC() []byte { return f.packet[0:6] }

// SourceMAC returns the frame's source MAC.
func (f Ethernet) SourceMAC() []byte { return f.packet[6:12] }

// Tag returns the raw 802.1Q tag bytes, or nil if untagged.
func (f Ethernet) Tag() []byte {
	if f.hasDot1q() {
		return f.packet[12:16]
	}
	return nil
}

func (f Ethernet) etherTypeOffset() int {
	if f.hasDot1q() {
		return 16
	}
	return 12
}

// EtherType returns the frame's ether-type field.
func (f Ethernet) EtherType() EtherType {
	off := f.etherTypeOffset()
	return EtherType(binary.BigEndian.Uint16(f.packet[off : off+2]))
}

// PayloadOffset returns the byte offset at which the payload begins.
func (f Ethernet) PayloadOffset() int { return f.payloadOffset() }

func (f Ethernet) payloadOffset() int { return f.etherTypeOffset() + 2 }

// Payload returns the frame's payload, excluding the trailing CRC.
func (f Ethernet) Payload() []byte {
	return f.packet[f.payloadOffset() : len(f.packet)-4]
}

// CRC returns the frame's trailing 4-byte CRC field.
func (f Ethernet) CRC() uint32 {
	return binary.BigEndian.Uint32(f.packet[len(f.packet)-4:])
}
