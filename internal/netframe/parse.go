package netframe

// ParsedEthernet pairs an Ethernet view with its decoded payload.
type ParsedEthernet struct {
	Ethernet Ethernet
	ARP      *ARP
	IPv4     *IPv4
	Unknown  EtherType
}

// ParsePacket parses an Ethernet frame and, based on its ether-type, the ARP
// or IPv4 packet carried inside it. Grounded on parse_packet.
func ParsePacket(data []byte) (ParsedEthernet, error) {
	eth, err := ParseEthernet(data)
	if err != nil {
		return ParsedEthernet{}, err
	}

	payload := eth.Payload()
	ret := ParsedEthernet{Ethernet: eth}
	switch eth.EtherType() {
	case EtherTypeARP:
		a, err := ParseARP(payload)
		if err != nil {
			return ParsedEthernet{}, err
		}
		ret.ARP = &a
	case EtherTypeIPv4:
		ip, err := ParseIPv4(payload)
		if err != nil {
			return ParsedEthernet{}, err
		}
		ret.IPv4 = &ip
	default:
		ret.Unknown = eth.EtherType()
	}
	return ret, nil
}

// ParsedIPv4Payload is the decoded transport payload of an IPv4 packet.
type ParsedIPv4Payload struct {
	UDP     *UDP
	TCPData []byte
	Unknown IPv4Protocol
}

// ParseIPv4Payload dispatches frame's payload to the UDP parser or exposes
// the raw TCP segment bytes for the caller's TCP state machine to parse.
// Grounded on parse_ipv4.
func ParseIPv4Payload(frame IPv4) (ParsedIPv4Payload, error) {
	switch frame.Protocol() {
	case IPv4ProtocolUDP:
		u, err := ParseUDP(frame.Payload())
		if err != nil {
			return ParsedIPv4Payload{}, err
		}
		return ParsedIPv4Payload{UDP: &u}, nil
	case IPv4ProtocolTCP:
		return ParsedIPv4Payload{TCPData: frame.Payload()}, nil
	default:
		return ParsedIPv4Payload{Unknown: frame.Protocol()}, nil
	}
}
