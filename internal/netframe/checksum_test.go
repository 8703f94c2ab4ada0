package netframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum16KnownValue(t *testing.T) {
	// RFC 1071's worked example.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	assert.Equal(t, uint16(0x220d), Checksum16(data))
}

func TestChecksum16PanicsOnOddLength(t *testing.T) {
	assert.Panics(t, func() { Checksum16([]byte{0x01}) })
}
