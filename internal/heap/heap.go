// Package heap implements kernelcore's allocator: a first-fit free list over
// a caller-supplied byte arena, carving each allocation from the high end of
// the chosen free block so a block is only ever shrunk, never split into two
// separate free pieces. Grounded on original_source/allocator.rs, whose
// FreeSegment/UsedSegment headers and find_header_for_allocation/
// merge_if_adjacent/insert_segment_into_list routines are ported here
// address-arithmetic-for-address-arithmetic, with arena-relative int64
// offsets standing in for the original's raw *mut u8 pointers — kernelcore
// runs as a hosted simulation with no linear physical address space to
// allocate real pointers into, and Go's GC would reclaim anything the
// allocator tried to hand out as an actual *T anyway.
package heap

import (
	"encoding/binary"

	"github.com/behrlich/kernelcore/internal/kerr"
	"github.com/behrlich/kernelcore/internal/ksync"
)

// headerSize is sizeof(FreeSegment)/sizeof(UsedSegment) in the original: an
// 8-byte size field and an 8-byte next-segment offset (unused by
// UsedSegment, but kept the same width so free/used conversion in place
// never needs to resize the header).
const headerSize = 16

const nullOffset = int64(-1)

// Heap is a first-fit, high-end-placement allocator over a fixed arena.
type Heap struct {
	arena []byte
	irq   *ksync.IRQGuarded[struct{}]
	free  *ksync.Spinlock[int64] // offset of the first free segment's header
}

// New creates a Heap over arena, which must be at least headerSize+1 bytes.
// The entire arena starts out as a single free segment.
func New(arena []byte) *Heap {
	if len(arena) <= headerSize {
		panic("heap: arena too small for a single header")
	}
	h := &Heap{
		arena: arena,
		irq:   ksync.NewIRQGuarded(struct{}{}),
	}
	writeSize(arena, 0, uint64(len(arena))-headerSize)
	writeNext(arena, 0, nullOffset)
	h.free = ksync.NewSpinlock(int64(0))
	return h
}

func readSize(arena []byte, offset int64) uint64 {
	return binary.LittleEndian.Uint64(arena[offset : offset+8])
}

func writeSize(arena []byte, offset int64, size uint64) {
	binary.LittleEndian.PutUint64(arena[offset:offset+8], size)
}

func readNext(arena []byte, offset int64) int64 {
	return int64(binary.LittleEndian.Uint64(arena[offset+8 : offset+16]))
}

func writeNext(arena []byte, offset int64, next int64) {
	binary.LittleEndian.PutUint64(arena[offset+8:offset+16], uint64(next))
}

func segStart(offset int64) int64 { return offset + headerSize }

func segEnd(arena []byte, offset int64) int64 {
	return segStart(offset) + int64(readSize(arena, offset))
}

// findHeaderForAllocation locates where a header for `size` bytes aligned to
// `align` would go within the free segment at offset, carving from its high
// end. Returns ok=false if the segment is too small.
func findHeaderForAllocation(arena []byte, offset int64, size, align uint64) (int64, bool) {
	start := segStart(offset)
	end := segEnd(arena, offset)

	ptr := end - int64(size)
	if align > 1 {
		ptr -= int64(uint64(ptr) % align)
	}
	ptr -= headerSize

	if ptr < start {
		return 0, false
	}
	return ptr, true
}

// Alloc reserves size bytes aligned to align (pass 1 for no alignment
// requirement beyond natural byte alignment) and returns the arena-relative
// offset of the usable payload. Panics via kerr.ResourceExhausted if no free
// segment is large enough — the allocator has no notion of growing the
// arena or blocking for memory to free up.
func (h *Heap) Alloc(size, align uint64) int64 {
	irqGuard := h.irq.Lock()
	defer irqGuard.Unlock()
	freeGuard := h.free.Lock()
	defer freeGuard.Unlock()

	it := freeGuard.Get()
	for it != nullOffset {
		headerPtr, ok := findHeaderForAllocation(h.arena, it, size, align)
		if !ok {
			it = readNext(h.arena, it)
			continue
		}

		usedEnd := segEnd(h.arena, it)
		writeSize(h.arena, it, uint64(headerPtr-segStart(it)))

		usedSize := uint64(usedEnd - segStart(headerPtr))
		writeSize(h.arena, headerPtr, usedSize)

		return segStart(headerPtr)
	}

	kerr.ResourceExhausted("heap.Alloc", "no free segment large enough for requested allocation")
	panic("unreachable")
}

// Free returns a previously allocated payload (an offset returned by Alloc)
// to the free list, coalescing with an address-adjacent neighbor on either
// side.
func (h *Heap) Free(ptr int64) {
	irqGuard := h.irq.Lock()
	defer irqGuard.Unlock()
	freeGuard := h.free.Lock()
	defer freeGuard.Unlock()

	headerPtr := ptr - headerSize
	size := readSize(h.arena, headerPtr)
	writeSize(h.arena, headerPtr, size)
	writeNext(h.arena, headerPtr, nullOffset)

	insertSegmentIntoList(h.arena, freeGuard, headerPtr)
}

func mergeIfAdjacent(arena []byte, a, b int64) {
	if b == nullOffset {
		return
	}
	if segEnd(arena, a) == b {
		newSize := uint64(segEnd(arena, b) - segStart(a))
		writeSize(arena, a, newSize)
		writeNext(arena, a, readNext(arena, b))
	}
}

func insertSegmentAfter(arena []byte, item, newSegment int64) {
	next := readNext(arena, item)
	writeNext(arena, item, newSegment)
	writeNext(arena, newSegment, next)

	mergeIfAdjacent(arena, newSegment, readNext(arena, newSegment))
	mergeIfAdjacent(arena, item, newSegment)
}

func insertSegmentIntoList(arena []byte, freeGuard *ksync.SpinlockGuard[int64], newSegment int64) {
	head := freeGuard.Get()
	it := head
	for it != nullOffset {
		if !(it < newSegment) {
			panic("heap: free-list address ordering invariant violated")
		}

		next := readNext(arena, it)
		if next == nullOffset || next > newSegment {
			insertSegmentAfter(arena, it, newSegment)
			return
		}
		it = next
	}
	panic("heap: failed to insert segment into free list")
}

// Bytes returns a view of the size bytes starting at offset, for reading or
// writing an allocation's contents directly (DMA buffers, register-file
// staging areas).
func (h *Heap) Bytes(offset int64, size uint64) []byte {
	return h.arena[offset : offset+int64(size)]
}
