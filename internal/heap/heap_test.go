package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, size int) *Heap {
	t.Helper()
	return New(make([]byte, size))
}

func TestAllocShrinksFreeSegment(t *testing.T) {
	h := newTestHeap(t, 1024)
	initialFreeSize := readSize(h.arena, 0)

	ptr := h.Alloc(16, 1)
	assert.GreaterOrEqual(t, ptr, int64(headerSize))

	afterFreeSize := readSize(h.arena, 0)
	assert.Less(t, afterFreeSize, initialFreeSize)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	h := newTestHeap(t, 1024)
	initialFreeSize := readSize(h.arena, 0)

	ptr := h.Alloc(32, 1)
	h.Free(ptr)

	assert.Equal(t, initialFreeSize, readSize(h.arena, 0))
	assert.Equal(t, nullOffset, readNext(h.arena, 0))
}

func TestAllocWritePersists(t *testing.T) {
	h := newTestHeap(t, 1024)
	ptr := h.Alloc(8, 1)
	buf := h.Bytes(ptr, 8)
	copy(buf, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	buf2 := h.Bytes(ptr, 8)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf2)
}

func TestMultipleAllocsDontOverlap(t *testing.T) {
	h := newTestHeap(t, 1024)
	a := h.Alloc(16, 1)
	b := h.Alloc(16, 1)
	assert.NotEqual(t, a, b)

	bufA := h.Bytes(a, 16)
	bufB := h.Bytes(b, 16)
	for i := range bufA {
		bufA[i] = 0xAA
	}
	for _, v := range bufB {
		assert.NotEqual(t, byte(0xAA), v)
	}
}

func TestFreeingOutOfOrderCoalesces(t *testing.T) {
	h := newTestHeap(t, 1024)
	a := h.Alloc(16, 1)
	b := h.Alloc(16, 1)
	c := h.Alloc(16, 1)

	initialFreeSize := readSize(h.arena, 0)
	_ = initialFreeSize

	h.Free(b)
	h.Free(a)
	h.Free(c)

	// After freeing everything, the whole arena should again be a single
	// free segment with no fragmentation.
	assert.Equal(t, nullOffset, readNext(h.arena, 0))
	assert.Equal(t, uint64(len(h.arena))-headerSize, readSize(h.arena, 0))
}

func TestAllocPanicsWhenExhausted(t *testing.T) {
	h := newTestHeap(t, 64)
	assert.Panics(t, func() {
		h.Alloc(1<<20, 1)
	})
}

func TestAllocAlignment(t *testing.T) {
	h := newTestHeap(t, 1024)
	ptr := h.Alloc(16, 16)
	assert.Zero(t, ptr%16)
}

func TestNewPanicsOnTinyArena(t *testing.T) {
	assert.Panics(t, func() {
		New(make([]byte, 4))
	})
}

func TestManyAllocFreeCycles(t *testing.T) {
	h := newTestHeap(t, 4096)
	initialFreeSize := readSize(h.arena, 0)

	var ptrs []int64
	for i := 0; i < 20; i++ {
		ptrs = append(ptrs, h.Alloc(32, 1))
	}
	for _, p := range ptrs {
		h.Free(p)
	}

	require.Equal(t, nullOffset, readNext(h.arena, 0))
	assert.Equal(t, initialFreeSize, readSize(h.arena, 0))
}
