package netframe

import (
	"encoding/binary"
	"fmt"

	"github.com/behrlich/kernelcore/internal/kerr"
)

// ArpOperation is the ARP opcode (request or reply).
type ArpOperation uint16

const (
	ArpRequest ArpOperation = 1
	ArpReply   ArpOperation = 2

	arpFrameLen = 28
)

// ARP is a parsed, read-only view over a 28-byte ARP packet.
type ARP struct {
	packet []byte
}

// ParseARP validates packet as a well-formed (IPv4-over-Ethernet) ARP
// packet. Grounded on ArpFrame::new.
func ParseARP(packet []byte) (ARP, error) {
	if len(packet) < arpFrameLen {
		return ARP{}, kerr.New("netframe.ParseARP", kerr.CodeProtocolDrop, fmt.Sprintf("arp packet too short: %d bytes", len(packet)))
	}
	return ARP{packet: packet}, nil
}

func (a ARP) HType() uint16 { return binary.BigEndian.Uint16(a.packet[0:2]) }
func (a ARP) PType() uint16 { return binary.BigEndian.Uint16(a.packet[2:4]) }
func (a ARP) HardwareAddressLength() uint8 { return a.packet[4] }
func (a ARP) ProtocolAddressLength() uint8 { return a.packet[5] }

// Operation returns the parsed opcode, or an error if it is neither request
// nor reply.
func (a ARP) Operation() (ArpOperation, error) {
	v := ArpOperation(binary.BigEndian.Uint16(a.packet[6:8]))
	switch v {
	case ArpRequest, ArpReply:
		return v, nil
	default:
		return 0, kerr.New("netframe.ARP.Operation", kerr.CodeProtocolDrop, fmt.Sprintf("unknown arp operation %d", v))
	}
}

func (a ARP) SenderHardwareAddress() []byte { return a.packet[8:14] }
func (a ARP) SenderProtocolAddress() []byte { return a.packet[14:18] }
func (a ARP) TargetHardwareAddress() []byte { return a.packet[18:24] }
func (a ARP) TargetProtocolAddress() []byte { return a.packet[24:28] }

// ArpParams describes an ARP packet to generate.
type ArpParams struct {
	HardwareType          uint16
	ProtocolType          uint16
	HardwareAddressLength uint8
	ProtocolAddressLength uint8
	Operation             ArpOperation
	SenderHardwareAddress [6]byte
	SenderProtocolAddress [4]byte
	TargetHardwareAddress [6]byte
	TargetProtocolAddress [4]byte
}

// GenerateARP builds a 28-byte ARP packet from params.
func GenerateARP(p ArpParams) []byte {
	ret := make([]byte, 0, arpFrameLen)
	ret = binary.BigEndian.AppendUint16(ret, p.HardwareType)
	ret = binary.BigEndian.AppendUint16(ret, p.ProtocolType)
	ret = append(ret, p.HardwareAddressLength, p.ProtocolAddressLength)
	ret = binary.BigEndian.AppendUint16(ret, uint16(p.Operation))
	ret = append(ret, p.SenderHardwareAddress[:]...)
	ret = append(ret, p.SenderProtocolAddress[:]...)
	ret = append(ret, p.TargetHardwareAddress[:]...)
	ret = append(ret, p.TargetProtocolAddress[:]...)
	return ret
}

// GenerateARPRequest builds a standard IPv4-over-Ethernet ARP request for
// remoteIP, sent from mac/localIP. Grounded on generate_arp_request.
func GenerateARPRequest(remoteIP, localIP IPv4Addr, mac [6]byte) []byte {
	return GenerateARP(ArpParams{
		HardwareType:          1,
		ProtocolType:          uint16(EtherTypeIPv4),
		HardwareAddressLength: 6,
		ProtocolAddressLength: 4,
		Operation:             ArpRequest,
		SenderHardwareAddress: mac,
		SenderProtocolAddress: localIP,
		TargetHardwareAddress: [6]byte{},
		TargetProtocolAddress: remoteIP,
	})
}
