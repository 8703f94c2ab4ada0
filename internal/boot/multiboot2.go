// Package boot parses the Multiboot2 boot information structure the
// bootloader hands the kernel's entry point: a tagged record list carrying
// the memory map, framebuffer parameters, and the ACPI RSDP pointer.
// Grounded on original_source/multiboot2.rs's TagIterator, which walks the
// same tags as raw pointer arithmetic over the structure GRUB places in
// memory; here it's walked over a []byte with encoding/binary instead.
package boot

import (
	"encoding/binary"

	"github.com/behrlich/kernelcore/internal/acpi"
	"github.com/behrlich/kernelcore/internal/kerr"
)

// Magic is the value the bootloader leaves in EAX on entry, identifying a
// Multiboot2-compliant boot.
const Magic uint32 = 0x36d76289

const (
	tagEnd            = 0
	tagMemoryMap      = 6
	tagFrameBuffer    = 8
	tagRSDP           = 14
	tagImageLoad      = 21
	tagHeaderFixedLen = 8 // type (4) + size (4), common to every tag
)

// BootInfo is a parsed Multiboot2 information structure.
type BootInfo struct {
	raw []byte
}

// ParseBootInfo validates magic and wraps the info buffer found at the
// address the bootloader passed in. Grounded on Multiboot2::new.
func ParseBootInfo(magic uint32, data []byte) (BootInfo, error) {
	if magic != Magic {
		return BootInfo{}, kerr.New("boot.ParseBootInfo", kerr.CodeHardwareMismatch, "unexpected multiboot2 magic")
	}
	if len(data) < 8 {
		return BootInfo{}, kerr.New("boot.ParseBootInfo", kerr.CodeProtocolDrop, "boot info shorter than its fixed header")
	}
	totalSize := binary.LittleEndian.Uint32(data[0:4])
	if int(totalSize) > len(data) {
		return BootInfo{}, kerr.New("boot.ParseBootInfo", kerr.CodeProtocolDrop, "boot info total_size exceeds buffer")
	}
	return BootInfo{raw: data[:totalSize]}, nil
}

type tag struct {
	typ  uint32
	body []byte // tag payload, excluding the type/size header
}

// eachTag walks the tag list, invoking visit for each non-terminator tag.
// Grounded on TagIterator::next, including its 8-byte size rounding.
func (b BootInfo) eachTag(visit func(tag) bool) {
	loc := 8
	for loc+tagHeaderFixedLen <= len(b.raw) {
		typ := binary.LittleEndian.Uint32(b.raw[loc : loc+4])
		size := binary.LittleEndian.Uint32(b.raw[loc+4 : loc+8])
		if typ == tagEnd {
			return
		}
		aligned := (size + 7) &^ 7
		end := loc + int(size)
		if end > len(b.raw) || end < loc {
			return
		}
		if !visit(tag{typ: typ, body: b.raw[loc+tagHeaderFixedLen : end]}) {
			return
		}
		loc += int(aligned)
	}
}

// GetRSDP returns the ACPI RSDP embedded in the boot info, if present.
// Grounded on Multiboot2::get_rsdp.
func (b BootInfo) GetRSDP() (acpi.RSDP, bool) {
	var found acpi.RSDP
	var ok bool
	b.eachTag(func(t tag) bool {
		if t.typ != tagRSDP {
			return true
		}
		rsdp, err := acpi.ParseRSDP(t.body)
		if err != nil {
			return true
		}
		found, ok = rsdp, true
		return false
	})
	return found, ok
}

// FrameBufferInfo describes the linear framebuffer GRUB set up before
// handing off to the kernel. Grounded on FrameBufferInfo /
// Multiboot2::get_framebuffer_info.
type FrameBufferInfo struct {
	ColorSize   uint8
	RedOffset   uint8
	GreenOffset uint8
	BlueOffset  uint8
	BytesPerPix uint8
	Width       uint32
	Pitch       uint32
	Height      uint32
	Addr        uint64
}

// GetFramebufferInfo returns the boot info's framebuffer tag, if present.
func (b BootInfo) GetFramebufferInfo() (FrameBufferInfo, bool) {
	var found FrameBufferInfo
	var ok bool
	b.eachTag(func(t tag) bool {
		if t.typ != tagFrameBuffer || len(t.body) < 30 {
			return true
		}
		body := t.body
		bpp := body[20]
		redFieldPos := body[24]
		redMaskSize := body[25]
		greenFieldPos := body[26]
		greenMaskSize := body[27]
		blueFieldPos := body[28]
		blueMaskSize := body[29]
		if redMaskSize != greenMaskSize || redMaskSize != blueMaskSize {
			return true
		}
		if redFieldPos%8 != 0 || greenFieldPos%8 != 0 || blueFieldPos%8 != 0 || bpp%8 != 0 {
			return true
		}
		found = FrameBufferInfo{
			ColorSize:   redMaskSize,
			RedOffset:   redFieldPos / 8,
			GreenOffset: greenFieldPos / 8,
			BlueOffset:  blueFieldPos / 8,
			BytesPerPix: bpp / 8,
			Width:       binary.LittleEndian.Uint32(body[12:16]),
			Pitch:       binary.LittleEndian.Uint32(body[8:12]),
			Height:      binary.LittleEndian.Uint32(body[16:20]),
			Addr:        binary.LittleEndian.Uint64(body[0:8]),
		}
		ok = true
		return false
	})
	return found, ok
}

// MemoryMapEntry is one BIOS/UEFI memory region descriptor. Grounded on
// MemoryMapEntry.
type MemoryMapEntry struct {
	Addr     uint64
	Len      uint64
	Type     uint32
	Reserved uint32
}

const memoryMapEntrySize = 24 // addr(8) + len(8) + typ(4) + reserved(4)

// GetMemoryMapEntries returns every region in the boot info's memory map
// tag. Grounded on MemoryMap::entries / Multiboot2::get_mmap_addrs.
func (b BootInfo) GetMemoryMapEntries() ([]MemoryMapEntry, bool) {
	var entries []MemoryMapEntry
	var ok bool
	b.eachTag(func(t tag) bool {
		if t.typ != tagMemoryMap || len(t.body) < 8 {
			return true
		}
		entrySize := binary.LittleEndian.Uint32(t.body[0:4])
		if entrySize == 0 {
			return true
		}
		records := t.body[8:]
		for off := 0; off+int(entrySize) <= len(records); off += int(entrySize) {
			e := records[off : off+memoryMapEntrySize]
			entries = append(entries, MemoryMapEntry{
				Addr:     binary.LittleEndian.Uint64(e[0:8]),
				Len:      binary.LittleEndian.Uint64(e[8:16]),
				Type:     binary.LittleEndian.Uint32(e[16:20]),
				Reserved: binary.LittleEndian.Uint32(e[20:24]),
			})
		}
		ok = true
		return false
	})
	return entries, ok
}

// ImageLoadBaseAddr returns the kernel image's load base address, if the
// bootloader reported one.
func (b BootInfo) ImageLoadBaseAddr() (uint32, bool) {
	var addr uint32
	var ok bool
	b.eachTag(func(t tag) bool {
		if t.typ != tagImageLoad || len(t.body) < 4 {
			return true
		}
		addr = binary.LittleEndian.Uint32(t.body[0:4])
		ok = true
		return false
	})
	return addr, ok
}
