package netframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseARPValidation(t *testing.T) {
	eth, err := ParseEthernet(arpRequest)
	require.NoError(t, err)
	payload := eth.Payload()

	_, err = ParseARP(payload)
	require.NoError(t, err)

	shortened := append([]byte(nil), payload[:28]...)
	_, err = ParseARP(shortened)
	require.NoError(t, err)

	shortened = shortened[:27]
	_, err = ParseARP(shortened)
	assert.Error(t, err)
}

func TestParseARPFields(t *testing.T) {
	eth, err := ParseEthernet(arpRequest)
	require.NoError(t, err)
	arp, err := ParseARP(eth.Payload())
	require.NoError(t, err)

	assert.Equal(t, uint16(1), arp.HType())
	assert.Equal(t, uint16(0x0800), arp.PType())
	assert.Equal(t, uint8(6), arp.HardwareAddressLength())
	assert.Equal(t, uint8(4), arp.ProtocolAddressLength())

	op, err := arp.Operation()
	require.NoError(t, err)
	assert.Equal(t, ArpRequest, op)

	assert.Equal(t, []byte{82, 85, 10, 0, 2, 2}, arp.SenderHardwareAddress())
	assert.Equal(t, []byte{10, 0, 2, 2}, arp.SenderProtocolAddress())
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, arp.TargetHardwareAddress())
	assert.Equal(t, []byte{192, 168, 122, 55}, arp.TargetProtocolAddress())
}

func TestGenerateARPRequestRoundTrip(t *testing.T) {
	mac := [6]byte{0x52, 0x55, 0x0a, 0x00, 0x02, 0x02}
	local := IPv4Addr{10, 0, 2, 2}
	remote := IPv4Addr{192, 168, 122, 55}

	packet := GenerateARPRequest(remote, local, mac)
	arp, err := ParseARP(packet)
	require.NoError(t, err)

	op, err := arp.Operation()
	require.NoError(t, err)
	assert.Equal(t, ArpRequest, op)
	assert.Equal(t, mac[:], arp.SenderHardwareAddress())
	assert.Equal(t, local[:], arp.SenderProtocolAddress())
	assert.Equal(t, remote[:], arp.TargetProtocolAddress())
}
