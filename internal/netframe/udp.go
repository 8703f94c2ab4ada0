package netframe

import (
	"encoding/binary"
	"fmt"

	"github.com/behrlich/kernelcore/internal/kerr"
)

const udpHeaderLength = 8

// UDP is a parsed, read-only view over a UDP datagram.
type UDP struct {
	packet []byte
}

// ParseUDP validates packet as a well-formed UDP datagram whose declared
// length field fits within the supplied bytes. Grounded on UdpFrame::new.
func ParseUDP(packet []byte) (UDP, error) {
	f := UDP{packet: packet}
	if len(packet) < udpHeaderLength || len(packet) < int(f.length()) {
		return UDP{}, kerr.New("netframe.ParseUDP", kerr.CodeProtocolDrop, fmt.Sprintf("udp datagram too short: have %d, declared %d", len(packet), f.length()))
	}
	return f, nil
}

func (f UDP) length() uint16 { return binary.BigEndian.Uint16(f.packet[4:6]) }

// SourcePort returns the datagram's source port.
func (f UDP) SourcePort() uint16 { return binary.BigEndian.Uint16(f.packet[0:2]) }

// DestPort returns the datagram's destination port.
func (f UDP) DestPort() uint16 { return binary.BigEndian.Uint16(f.packet[2:4]) }

// Data returns the datagram's payload, bounded by the declared length.
func (f UDP) Data() []byte {
	return f.packet[udpHeaderLength:f.length()]
}

// GenerateUDP builds a UDP datagram addressed to destPort carrying payload.
// The checksum field is left zero (optional over IPv4), matching
// generate_udp_frame.
func GenerateUDP(destPort uint16, payload []byte) []byte {
	length := uint16(udpHeaderLength + len(payload))
	ret := make([]byte, 0, length)
	ret = binary.BigEndian.AppendUint16(ret, 0) // source port
	ret = binary.BigEndian.AppendUint16(ret, destPort)
	ret = binary.BigEndian.AppendUint16(ret, length)
	ret = binary.BigEndian.AppendUint16(ret, 0) // checksum
	ret = append(ret, payload...)
	return ret
}
