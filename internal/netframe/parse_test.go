package netframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacketARP(t *testing.T) {
	parsed, err := ParsePacket(arpRequest)
	require.NoError(t, err)
	require.NotNil(t, parsed.ARP)
	assert.Nil(t, parsed.IPv4)
	op, err := parsed.ARP.Operation()
	require.NoError(t, err)
	assert.Equal(t, ArpRequest, op)
}

func TestParsePacketIPv4UDP(t *testing.T) {
	parsed, err := ParsePacket(udpRequest)
	require.NoError(t, err)
	require.NotNil(t, parsed.IPv4)
	assert.Nil(t, parsed.ARP)

	payload, err := ParseIPv4Payload(*parsed.IPv4)
	require.NoError(t, err)
	require.NotNil(t, payload.UDP)
	assert.Equal(t, []byte("test\n"), payload.UDP.Data())
}

func TestParseIPv4PayloadTCPPassesRawBytes(t *testing.T) {
	raw := GenerateIPv4([]byte{0xde, 0xad, 0xbe, 0xef}, IPv4ProtocolTCP, IPv4Addr{1, 1, 1, 1}, IPv4Addr{2, 2, 2, 2})
	frame, err := ParseIPv4(raw)
	require.NoError(t, err)

	payload, err := ParseIPv4Payload(frame)
	require.NoError(t, err)
	assert.Nil(t, payload.UDP)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, payload.TCPData)
}
