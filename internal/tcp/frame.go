// Package tcp implements the per-4-tuple TCP state machine: handshake,
// connected-state ingress processing, fast retransmit on duplicate ACKs, and
// the SYN-ACK retransmit timer. Grounded on original_source/net/tcp.rs.
package tcp

import (
	"encoding/binary"

	"github.com/behrlich/kernelcore/internal/kerr"
	"github.com/behrlich/kernelcore/internal/netframe"
)

const headerLen = 20

// Flags holds the eight TCP flag bits of a segment's 14th byte.
type Flags struct {
	CWR, ECE, URG, ACK, PSH, RST, SYN, FIN bool
}

func (f Flags) encode() byte {
	var b byte
	setBit := func(shift uint, v bool) {
		if v {
			b |= 1 << shift
		}
	}
	setBit(7, f.CWR)
	setBit(6, f.ECE)
	setBit(5, f.URG)
	setBit(4, f.ACK)
	setBit(3, f.PSH)
	setBit(2, f.RST)
	setBit(1, f.SYN)
	setBit(0, f.FIN)
	return b
}

func decodeFlags(b byte) Flags {
	bit := func(shift uint) bool { return b&(1<<shift) != 0 }
	return Flags{
		CWR: bit(7), ECE: bit(6), URG: bit(5), ACK: bit(4),
		PSH: bit(3), RST: bit(2), SYN: bit(1), FIN: bit(0),
	}
}

// Segment is a parsed, read-only view over a TCP segment's bytes (header +
// payload, no IP layer).
type Segment struct {
	data []byte
}

// ParseSegment wraps data as a TCP segment view. Beyond rejecting data
// shorter than the 20-byte fixed header it performs no length validation;
// malformed segments are
// expected to be caught by the IPv4 layer's declared-length bookkeeping,
// matching TcpFrame::new's behavior of trusting its caller.
func ParseSegment(data []byte) (Segment, error) {
	if len(data) < headerLen {
		return Segment{}, kerr.New("tcp.ParseSegment", kerr.CodeProtocolDrop, "segment shorter than TCP header")
	}
	return Segment{data: data}, nil
}

func (s Segment) SourcePort() uint16 { return binary.BigEndian.Uint16(s.data[0:2]) }
func (s Segment) DestPort() uint16   { return binary.BigEndian.Uint16(s.data[2:4]) }
func (s Segment) SeqNum() uint32     { return binary.BigEndian.Uint32(s.data[4:8]) }
func (s Segment) AckNum() uint32     { return binary.BigEndian.Uint32(s.data[8:12]) }

func (s Segment) dataOffsetBytes() int {
	words := (s.data[12] >> 4) & 0x0f
	if words == 0 {
		kerr.Invariant("tcp.Segment.dataOffsetBytes", "data offset field is zero")
	}
	return int(words) * 4
}

func (s Segment) Flags() Flags { return decodeFlags(s.data[13]) }

func (s Segment) WindowSize() uint16 { return binary.BigEndian.Uint16(s.data[14:16]) }
func (s Segment) Checksum() uint16   { return binary.BigEndian.Uint16(s.data[16:18]) }
func (s Segment) UrgentPtr() uint16  { return binary.BigEndian.Uint16(s.data[18:20]) }

// Payload returns the segment's application data, after the header length
// given by the data-offset field (options included).
func (s Segment) Payload() []byte { return s.data[s.dataOffsetBytes():] }

// SegmentParams describes a TCP segment to generate.
type SegmentParams struct {
	SourceAddress netframe.IPv4Addr
	DestAddress   netframe.IPv4Addr
	SourcePort    uint16
	DestPort      uint16
	SeqNum        uint32
	AckNum        uint32
	Flags         Flags
	WindowSize    uint16
	UrgentPtr     uint16
	Payload       []byte
}

// GenerateSegment builds a 20-byte-header TCP segment (no options) with a
// checksum computed over the TCP pseudo-header + segment. Grounded on
// generate_tcp_frame.
func GenerateSegment(p SegmentParams) []byte {
	ret := make([]byte, 0, headerLen+len(p.Payload))
	ret = binary.BigEndian.AppendUint16(ret, p.SourcePort)
	ret = binary.BigEndian.AppendUint16(ret, p.DestPort)
	ret = binary.BigEndian.AppendUint32(ret, p.SeqNum)
	ret = binary.BigEndian.AppendUint32(ret, p.AckNum)
	ret = append(ret, byte((headerLen/4)<<4))
	ret = append(ret, p.Flags.encode())
	ret = binary.BigEndian.AppendUint16(ret, p.WindowSize)
	checksumIdx := len(ret)
	ret = binary.BigEndian.AppendUint16(ret, 0) // checksum placeholder
	ret = binary.BigEndian.AppendUint16(ret, p.UrgentPtr)
	ret = append(ret, p.Payload...)

	pseudo := make([]byte, 0, 12+len(ret)+1)
	pseudo = append(pseudo, p.SourceAddress[:]...)
	pseudo = append(pseudo, p.DestAddress[:]...)
	pseudo = append(pseudo, 0, byte(netframe.IPv4ProtocolTCP))
	pseudo = binary.BigEndian.AppendUint16(pseudo, uint16(len(ret)))
	pseudo = append(pseudo, ret...)
	if len(pseudo)%2 != 0 {
		pseudo = append(pseudo, 0)
	}

	checksum := netframe.Checksum16(pseudo)
	binary.BigEndian.PutUint16(ret[checksumIdx:checksumIdx+2], checksum)

	return ret
}
