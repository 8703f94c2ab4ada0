package netframe

import (
	"encoding/binary"
	"fmt"

	"github.com/behrlich/kernelcore/internal/kerr"
)

// IPv4Protocol identifies the transport protocol carried by an IPv4 packet.
type IPv4Protocol uint8

const (
	IPv4ProtocolTCP     IPv4Protocol = 0x06
	IPv4ProtocolUDP     IPv4Protocol = 0x11
	ipv4HeaderSizeBytes              = 20
)

// IPv4 is a parsed, read-only view over an IPv4 packet.
type IPv4 struct {
	packet []byte
}

// ParseIPv4 validates packet as a well-formed IPv4 packet whose declared
// header/total lengths fit within the supplied bytes. Grounded on
// Ipv4Frame::new.
func ParseIPv4(packet []byte) (IPv4, error) {
	f := IPv4{packet: packet}
	if len(packet) == 0 {
		return IPv4{}, kerr.New("netframe.ParseIPv4", kerr.CodeProtocolDrop, "empty ipv4 packet")
	}
	if f.headerLength() > len(packet) {
		return IPv4{}, kerr.New("netframe.ParseIPv4", kerr.CodeProtocolDrop, "ipv4 header length exceeds packet length")
	}
	if f.totalLength() > len(packet) {
		return IPv4{}, kerr.New("netframe.ParseIPv4", kerr.CodeProtocolDrop, "ipv4 total length exceeds packet length")
	}
	return f, nil
}

func (f IPv4) ihl() uint8 { return f.packet[0] & 0x0f }

func (f IPv4) headerLength() int { return int(f.ihl()) * 4 }

func (f IPv4) totalLength() int { return int(binary.BigEndian.Uint16(f.packet[2:4])) }

// Protocol returns the transport protocol carried by this packet.
func (f IPv4) Protocol() IPv4Protocol {
	switch f.packet[9] {
	case byte(IPv4ProtocolTCP):
		return IPv4ProtocolTCP
	case byte(IPv4ProtocolUDP):
		return IPv4ProtocolUDP
	default:
		return IPv4Protocol(f.packet[9])
	}
}

// SourceIP returns the packet's source address.
func (f IPv4) SourceIP() IPv4Addr {
	var a IPv4Addr
	copy(a[:], f.packet[12:16])
	return a
}

// DestIP returns the packet's destination address.
func (f IPv4) DestIP() IPv4Addr {
	var a IPv4Addr
	copy(a[:], f.packet[16:20])
	return a
}

// Payload returns the bytes after the IPv4 header, up to the declared total
// length.
func (f IPv4) Payload() []byte {
	return f.packet[f.headerLength():f.totalLength()]
}

// GenerateIPv4 builds a 20-byte-header IPv4 packet (no options), with a
// computed header checksum. Grounded on generate_ipv4_frame.
func GenerateIPv4(payload []byte, protocol IPv4Protocol, sourceIP, destIP IPv4Addr) []byte {
	ret := make([]byte, 0, ipv4HeaderSizeBytes+len(payload))
	ret = append(ret, 0x45) // version 4, IHL 5
	ret = append(ret, 0x00) // DSCP/ECN
	ret = binary.BigEndian.AppendUint16(ret, uint16(ipv4HeaderSizeBytes+len(payload)))
	ret = binary.BigEndian.AppendUint16(ret, 0) // identification
	ret = binary.BigEndian.AppendUint16(ret, 0) // flags + fragment offset
	ret = append(ret, 64)                       // TTL
	ret = append(ret, byte(protocol))

	checksumLoc := len(ret)
	ret = binary.BigEndian.AppendUint16(ret, 0) // checksum placeholder
	ret = append(ret, sourceIP[:]...)
	ret = append(ret, destIP[:]...)

	checksum := Checksum16(ret)
	binary.BigEndian.PutUint16(ret[checksumLoc:checksumLoc+2], checksum)

	ret = append(ret, payload...)
	return ret
}

// String renders an IPv4Addr as dotted-decimal, for logging.
func (a IPv4Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}
