// Package gdt encodes and decodes x86 Global Descriptor Table segment
// descriptors. Grounded on original_source/gdt.rs's GdtSegment bit-packing
// (base/limit split across the low and high halves of the 8-byte
// descriptor, access byte at bits 40..48, flags nibble at bits 52..56);
// the asm-level LGDT/segment-reload sequence is out of scope (see spec.md
// §1 "Out of scope: GDT/IDT layout").
package gdt

import "github.com/behrlich/kernelcore/internal/bitutil"

// Segment is a single 8-byte GDT descriptor.
type Segment uint64

// NewSegment packs base/limit/access/flags into a descriptor. Grounded on
// GdtSegment::new.
func NewSegment(base, limit uint32, access, flags uint8) Segment {
	var d uint64
	bitutil.SetBits(&d, 0, 16, uint64(limit))
	bitutil.SetBits(&d, 48, 4, uint64(limit>>16))

	bitutil.SetBits(&d, 16, 24, uint64(base))
	bitutil.SetBits(&d, 56, 8, uint64(base>>24))

	bitutil.SetBits(&d, 40, 8, uint64(access))
	bitutil.SetBits(&d, 52, 4, uint64(flags))

	return Segment(d)
}

// Base returns the descriptor's 32-bit base address.
func (s Segment) Base() uint32 {
	base := bitutil.GetBits(uint64(s), 16, 24)
	upper := bitutil.GetBits(uint64(s), 56, 8)
	return uint32(base | (upper << 24))
}

// Limit returns the descriptor's 20-bit limit.
func (s Segment) Limit() uint32 {
	limit := bitutil.GetBits(uint64(s), 0, 16)
	upper := bitutil.GetBits(uint64(s), 48, 4)
	return uint32(limit | (upper << 16))
}

// Access returns the descriptor's access byte.
func (s Segment) Access() uint8 { return uint8(bitutil.GetBits(uint64(s), 40, 8)) }

// Flags returns the descriptor's 4-bit flags nibble.
func (s Segment) Flags() uint8 { return uint8(bitutil.GetBits(uint64(s), 52, 4)) }

// AccessByteParams describes the seven fields of a segment's access byte.
type AccessByteParams struct {
	Present        bool
	PrivilegeLevel uint8
	DescriptorType bool // true = code/data, false = system
	Executable     bool
	DirectionConforming bool
	ReadWrite      bool
	Accessed       bool
}

// GenerateAccessByte packs p into a single access byte. Grounded on
// gen_access_byte.
func GenerateAccessByte(p AccessByteParams) uint8 {
	var b uint8
	bitutil.SetBit(&b, 7, p.Present)
	bitutil.SetBits(&b, 5, 2, p.PrivilegeLevel)
	bitutil.SetBit(&b, 4, p.DescriptorType)
	bitutil.SetBit(&b, 3, p.Executable)
	bitutil.SetBit(&b, 2, p.DirectionConforming)
	bitutil.SetBit(&b, 1, p.ReadWrite)
	bitutil.SetBit(&b, 0, p.Accessed)
	return b
}

// StandardTable returns the null, flat 32-bit code, and flat 32-bit data
// descriptors kernelcore installs at boot, matching get_gdt_vals.
func StandardTable() [3]Segment {
	codeAccess := GenerateAccessByte(AccessByteParams{
		Present: true, DescriptorType: true, Executable: true, ReadWrite: false, Accessed: true,
	})
	dataAccess := GenerateAccessByte(AccessByteParams{
		Present: true, DescriptorType: true, Executable: false, ReadWrite: true, Accessed: true,
	})

	const flatLimit = 0xfffff
	const flags = 0b1100 // granularity (4KiB pages) + 32-bit mode

	return [3]Segment{
		0,
		NewSegment(0, flatLimit, codeAccess, flags),
		NewSegment(0, flatLimit, dataAccess, flags),
	}
}
