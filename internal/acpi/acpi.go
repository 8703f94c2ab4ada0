// Package acpi parses the subset of ACPI firmware tables kernelcore needs at
// boot to find the local APIC(s): the RSDP, the RSDT's child-table
// pointers, and the MADT's local-APIC entries. Grounded on
// original_source/acpi.rs, which walks these as raw pointers into physical
// memory (`#[repr(C, packed)]` structs cast from a `*const u8`); here the
// same byte layouts are decoded from a []byte via a Memory indirection
// instead of unsafe pointer casts, matching the byte-slice parsing idiom
// internal/netframe and internal/boot use for wire/firmware formats.
package acpi

import (
	"encoding/binary"

	"github.com/behrlich/kernelcore/internal/kerr"
)

// Memory resolves a physical address to its backing bytes. The kernel's
// boot sequence backs this with identity-mapped physical memory; tests back
// it with an in-memory fixture.
type Memory interface {
	ReadAt(addr uint32, length int) []byte
}

const (
	rsdpLength      = 20
	sdtHeaderLength = 36
)

// RSDP is the Root System Description Pointer found via the Multiboot2 boot
// information (see internal/boot). Grounded on Rsdp.
type RSDP struct {
	raw []byte
}

// ParseRSDP validates data is long enough to hold an RSDP and wraps it.
func ParseRSDP(data []byte) (RSDP, error) {
	if len(data) < rsdpLength {
		return RSDP{}, kerr.New("acpi.ParseRSDP", kerr.CodeProtocolDrop, "rsdp shorter than 20 bytes")
	}
	return RSDP{raw: data[:rsdpLength]}, nil
}

// Signature returns the 8-byte "RSD PTR " signature.
func (r RSDP) Signature() [8]byte { var s [8]byte; copy(s[:], r.raw[0:8]); return s }

// Checksum returns the RSDP's checksum byte.
func (r RSDP) Checksum() uint8 { return r.raw[8] }

// Revision returns the ACPI revision this RSDP describes.
func (r RSDP) Revision() uint8 { return r.raw[15] }

// RsdtAddress returns the physical address of the RSDT.
func (r RSDP) RsdtAddress() uint32 { return binary.LittleEndian.Uint32(r.raw[16:20]) }

// ValidateChecksum reports whether the RSDP's bytes sum to zero mod 256,
// matching Rsdp::validate_checksum.
func (r RSDP) ValidateChecksum() bool {
	var acc uint8
	for _, b := range r.raw {
		acc += b
	}
	return acc == 0
}

// RSDT reads and parses the RSDT this RSDP points to. Grounded on
// Rsdp::rsdt.
func (r RSDP) RSDT(mem Memory) (RSDT, error) {
	return ParseRSDT(mem, r.RsdtAddress())
}

// SDTHeader is the common ACPI System Description Table header shared by
// every table (RSDT, MADT, FACP, HPET, ...). Grounded on AcpiSdtHeader.
type SDTHeader struct {
	raw []byte
}

// ParseSDTHeader validates data is long enough to hold a header and wraps
// it.
func ParseSDTHeader(data []byte) (SDTHeader, error) {
	if len(data) < sdtHeaderLength {
		return SDTHeader{}, kerr.New("acpi.ParseSDTHeader", kerr.CodeProtocolDrop, "sdt header shorter than 36 bytes")
	}
	return SDTHeader{raw: data[:sdtHeaderLength]}, nil
}

// Signature returns the table's 4-byte ASCII signature, e.g. "APIC".
func (h SDTHeader) Signature() string { return string(h.raw[0:4]) }

// Length returns the table's total length in bytes, including this header.
func (h SDTHeader) Length() uint32 { return binary.LittleEndian.Uint32(h.raw[4:8]) }

// RSDT is the Root System Description Table: a header followed by a packed
// array of 32-bit pointers to every other table. Grounded on Rsdt.
type RSDT struct {
	Header SDTHeader
	raw    []byte
}

// ParseRSDT reads the RSDT's header at addr, then re-reads its full
// declared length so Pointers can walk every child entry.
func ParseRSDT(mem Memory, addr uint32) (RSDT, error) {
	header, err := ParseSDTHeader(mem.ReadAt(addr, sdtHeaderLength))
	if err != nil {
		return RSDT{}, kerr.Wrap("acpi.ParseRSDT", err)
	}
	full := mem.ReadAt(addr, int(header.Length()))
	return RSDT{Header: header, raw: full}, nil
}

// Pointers returns the physical addresses of every table the RSDT
// references. Grounded on Rsdt::iter / RsdtIterator.
func (r RSDT) Pointers() []uint32 {
	body := r.raw[sdtHeaderLength:]
	n := len(body) / 4
	pointers := make([]uint32, n)
	for i := 0; i < n; i++ {
		pointers[i] = binary.LittleEndian.Uint32(body[i*4 : i*4+4])
	}
	return pointers
}

// Tables resolves every child pointer's header via mem, so a caller can
// find e.g. the MADT by signature without reading its full body yet.
func (r RSDT) Tables(mem Memory) ([]SDTHeader, error) {
	pointers := r.Pointers()
	headers := make([]SDTHeader, 0, len(pointers))
	for _, addr := range pointers {
		header, err := ParseSDTHeader(mem.ReadAt(addr, sdtHeaderLength))
		if err != nil {
			return nil, kerr.Wrap("acpi.RSDT.Tables", err)
		}
		headers = append(headers, header)
	}
	return headers, nil
}

const madtEntriesOffset = sdtHeaderLength + 8 // local_apic_addr (4) + flags (4)

// MADT is the Multiple APIC Description Table: the header, the local APIC's
// physical address, and a packed sequence of variable-length entries.
// Grounded on Madt.
type MADT struct {
	Header SDTHeader
	raw    []byte
}

// ParseMADT reads the table's header at addr, then its full declared
// length so Entries can walk every record.
func ParseMADT(mem Memory, addr uint32) (MADT, error) {
	header, err := ParseSDTHeader(mem.ReadAt(addr, sdtHeaderLength))
	if err != nil {
		return MADT{}, kerr.Wrap("acpi.ParseMADT", err)
	}
	if header.Length() < madtEntriesOffset {
		return MADT{}, kerr.New("acpi.ParseMADT", kerr.CodeProtocolDrop, "madt shorter than its fixed fields")
	}
	full := mem.ReadAt(addr, int(header.Length()))
	return MADT{Header: header, raw: full}, nil
}

// LocalApicAddr returns the local APIC's physical base address.
func (m MADT) LocalApicAddr() uint32 {
	return binary.LittleEndian.Uint32(m.raw[sdtHeaderLength : sdtHeaderLength+4])
}

// MadtEntryKind identifies a MADT interrupt-controller-structure record
// type. Only LocalApic is decoded; kernelcore has no I/O APIC or
// interrupt-override support.
type MadtEntryKind uint8

const MadtEntryLocalApic MadtEntryKind = 0

// MadtEntry is a single decoded MADT record. Grounded on MadtEntry /
// MadtEntryIter.
type MadtEntry struct {
	Kind   MadtEntryKind
	AcpiID uint8
	ApicID uint8
	Flags  uint32
}

// Entries walks the MADT's variable-length record list, decoding
// LocalApic entries and skipping (but not erroring on) any other record
// type by its declared length.
func (m MADT) Entries() []MadtEntry {
	body := m.raw[madtEntriesOffset:]
	var entries []MadtEntry
	for i := 0; i+2 <= len(body); {
		recordType := body[i]
		recordLength := int(body[i+1])
		if recordLength == 0 || i+recordLength > len(body) {
			break
		}
		if recordType == uint8(MadtEntryLocalApic) && recordLength >= 8 {
			entries = append(entries, MadtEntry{
				Kind:   MadtEntryLocalApic,
				AcpiID: body[i+2],
				ApicID: body[i+3],
				Flags:  binary.LittleEndian.Uint32(body[i+4 : i+8]),
			})
		}
		i += recordLength
	}
	return entries
}
