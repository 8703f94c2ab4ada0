package boot

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildInfo assembles a Multiboot2 boot information buffer from a sequence
// of already-encoded tag bodies (each prefixed with its own type/size
// header), the way GRUB lays out the structure in memory.
func buildInfo(tags ...[]byte) []byte {
	var body []byte
	for _, tag := range tags {
		body = append(body, tag...)
		if pad := (8 - len(tag)%8) % 8; pad != 0 {
			body = append(body, make([]byte, pad)...)
		}
	}
	// terminator tag: type 0, size 8
	body = append(body, make([]byte, 8)...)

	totalSize := uint32(8 + len(body))
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], totalSize)
	return append(header, body...)
}

func tagBytes(typ uint32, payload []byte) []byte {
	size := uint32(8 + len(payload))
	out := make([]byte, 8, 8+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], typ)
	binary.LittleEndian.PutUint32(out[4:8], size)
	return append(out, payload...)
}

func TestParseBootInfoRejectsBadMagic(t *testing.T) {
	_, err := ParseBootInfo(0xdeadbeef, buildInfo())
	assert.Error(t, err)
}

func TestParseBootInfoEmptyTagList(t *testing.T) {
	info, err := ParseBootInfo(Magic, buildInfo())
	require.NoError(t, err)
	_, ok := info.GetRSDP()
	assert.False(t, ok)
}

func TestGetRSDPTag(t *testing.T) {
	rsdp := make([]byte, 20)
	copy(rsdp[0:8], "RSD PTR ")
	binary.LittleEndian.PutUint32(rsdp[16:20], 0x00100000)

	info, err := ParseBootInfo(Magic, buildInfo(tagBytes(tagRSDP, rsdp)))
	require.NoError(t, err)

	got, ok := info.GetRSDP()
	require.True(t, ok)
	assert.Equal(t, uint32(0x00100000), got.RsdtAddress())
}

func TestGetMemoryMapEntries(t *testing.T) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], 24) // entry_size
	binary.LittleEndian.PutUint32(payload[4:8], 0)  // entry_version

	entry := make([]byte, 24)
	binary.LittleEndian.PutUint64(entry[0:8], 0x100000)
	binary.LittleEndian.PutUint64(entry[8:16], 0x1000)
	binary.LittleEndian.PutUint32(entry[16:20], 1)
	payload = append(payload, entry...)

	info, err := ParseBootInfo(Magic, buildInfo(tagBytes(tagMemoryMap, payload)))
	require.NoError(t, err)

	entries, ok := info.GetMemoryMapEntries()
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(0x100000), entries[0].Addr)
	assert.Equal(t, uint64(0x1000), entries[0].Len)
	assert.Equal(t, uint32(1), entries[0].Type)
}

func TestGetFramebufferInfo(t *testing.T) {
	payload := make([]byte, 30)
	binary.LittleEndian.PutUint64(payload[0:8], 0xfd000000)
	binary.LittleEndian.PutUint32(payload[8:12], 1024) // pitch
	binary.LittleEndian.PutUint32(payload[12:16], 800)  // width
	binary.LittleEndian.PutUint32(payload[16:20], 600)  // height
	payload[20] = 32                                    // bpp
	payload[21] = 1                                     // type
	payload[24] = 16                                    // red field pos
	payload[25] = 8                                      // red mask size
	payload[26] = 8                                      // green field pos
	payload[27] = 8                                      // green mask size
	payload[28] = 0                                      // blue field pos
	payload[29] = 8                                      // blue mask size

	info, err := ParseBootInfo(Magic, buildInfo(tagBytes(tagFrameBuffer, payload)))
	require.NoError(t, err)

	fb, ok := info.GetFramebufferInfo()
	require.True(t, ok)
	assert.Equal(t, uint32(800), fb.Width)
	assert.Equal(t, uint32(600), fb.Height)
	assert.Equal(t, uint8(4), fb.BytesPerPix)
	assert.Equal(t, uint8(2), fb.RedOffset)
	assert.Equal(t, uint8(1), fb.GreenOffset)
	assert.Equal(t, uint8(0), fb.BlueOffset)
}

func TestMultipleTagsAndImageLoad(t *testing.T) {
	img := make([]byte, 4)
	binary.LittleEndian.PutUint32(img, 0x00100000)

	rsdp := make([]byte, 20)
	copy(rsdp[0:8], "RSD PTR ")

	info, err := ParseBootInfo(Magic, buildInfo(tagBytes(tagImageLoad, img), tagBytes(tagRSDP, rsdp)))
	require.NoError(t, err)

	addr, ok := info.ImageLoadBaseAddr()
	require.True(t, ok)
	assert.Equal(t, uint32(0x00100000), addr)

	_, ok = info.GetRSDP()
	assert.True(t, ok)
}
