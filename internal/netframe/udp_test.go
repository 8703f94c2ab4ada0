package netframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUDPValidation(t *testing.T) {
	eth, err := ParseEthernet(udpRequest)
	require.NoError(t, err)
	ip, err := ParseIPv4(eth.Payload())
	require.NoError(t, err)

	_, err = ParseUDP(ip.Payload())
	require.NoError(t, err)

	payload := append([]byte(nil), ip.Payload()[:12]...)
	_, err = ParseUDP(payload)
	assert.Error(t, err)

	payload[4], payload[5] = 0, 4
	_, err = ParseUDP(payload)
	require.NoError(t, err)

	payload = payload[:7]
	_, err = ParseUDP(payload)
	assert.Error(t, err)
}

func TestParseUDPFields(t *testing.T) {
	eth, err := ParseEthernet(udpRequest)
	require.NoError(t, err)
	ip, err := ParseIPv4(eth.Payload())
	require.NoError(t, err)
	udp, err := ParseUDP(ip.Payload())
	require.NoError(t, err)

	assert.Equal(t, uint16(13), udp.length())
	assert.Equal(t, []byte("test\n"), udp.Data())
}

func TestGenerateUDPRoundTrip(t *testing.T) {
	packet := GenerateUDP(53, []byte("hi"))
	udp, err := ParseUDP(packet)
	require.NoError(t, err)
	assert.Equal(t, uint16(53), udp.DestPort())
	assert.Equal(t, []byte("hi"), udp.Data())
}
