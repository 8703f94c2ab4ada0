// Package pci scans PCI configuration space for devices and exposes the
// BAR/bus-mastering/IRQ operations kernelcore's drivers need to bind to one.
// Grounded on original_source/io/pci.rs's CONFIG_ADDRESS/CONFIG_DATA port
// pair (0xCF8/0xCFC); here the two 32-bit ports are modeled as a single
// 8-byte mmio.Registers bank (offset 0 = address, offset 4 = data) the way
// internal/rtl8139 and internal/uhci model their own register banks,
// instead of raw x86 `in`/`out` instructions.
package pci

import (
	"sync"

	"github.com/behrlich/kernelcore/internal/bitutil"
	"github.com/behrlich/kernelcore/internal/kerr"
	"github.com/behrlich/kernelcore/internal/mmio"
)

const (
	configAddressOffset = 0
	configDataOffset    = 4

	registerCommandStatus = 1
	registerHeaderType    = 3
	registerBAR0          = 4
	registerInterruptLine = 0xf

	commandBusMasterBit = 2
)

// HeaderType classifies what a config-space header describes.
type HeaderType uint8

const (
	HeaderGeneral         HeaderType = 0
	HeaderPciPciBridge    HeaderType = 1
	HeaderPciCardBusBridge HeaderType = 2
)

// ConfigSpace is the bus's simulated CONFIG_ADDRESS/CONFIG_DATA port pair:
// a write to configAddressOffset selects a (bus, slot, func, register) the
// way select_pci_address packs it into the real CONFIG_ADDRESS port, and a
// write at configDataOffset then lands in that selection's backing
// config-space words (through a write hook), the same indirection
// original_source drives through `out` on 0xCF8/0xCFC. Reads select the
// address the same way but take the value from the backing words directly;
// the data port itself is not refreshed on a read.
type ConfigSpace struct {
	mu  sync.Mutex
	reg *mmio.Registers

	// devices maps a (bus, slot) pair to its 64-dword (256-byte)
	// configuration space, keyed the same way original_source scans.
	devices map[busSlot]*deviceSpace
}

// defaultBarSizeMask assumes a 4KiB-aligned memory BAR unless SetBARSize
// says otherwise; this only affects the all-ones size probe FindMmapRange
// performs, not ordinary base-address reads/writes.
const defaultBarSizeMask uint32 = 0xfffff000

type deviceSpace struct {
	words       []uint32
	barSizeMask [6]uint32
}

type busSlot struct {
	bus, slot uint8
}

// NewConfigSpace creates an empty simulated PCI bus.
func NewConfigSpace() *ConfigSpace {
	c := &ConfigSpace{reg: mmio.New(8), devices: make(map[busSlot]*deviceSpace)}
	c.reg.OnWrite(configDataOffset, c.onDataWrite)
	return c
}

// AddDevice installs a device's vendor/device ID and header type at
// (bus, slot), zero-filling the rest of its configuration space.
func (c *ConfigSpace) AddDevice(bus, slot uint8, vendor, device uint16, header HeaderType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := &deviceSpace{words: make([]uint32, 64)}
	d.words[0] = uint32(vendor) | uint32(device)<<16
	d.words[3] = uint32(header) << 16
	for i := range d.barSizeMask {
		d.barSizeMask[i] = defaultBarSizeMask
	}
	c.devices[busSlot{bus, slot}] = d
}

// SetBARSize overrides the size mask a real device's BAR would report
// during the hardware all-ones size probe, so tests can exercise regions
// other than the 4KiB default.
func (c *ConfigSpace) SetBARSize(bus, slot, barIndex uint8, sizeMask uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[busSlot{bus, slot}]; ok {
		d.barSizeMask[barIndex] = sizeMask
	}
}

// selectedAddress decodes the current CONFIG_ADDRESS register into its
// bus/slot/byte-offset fields, mirroring select_pci_address's bit layout.
func (c *ConfigSpace) selectedAddress() (bus, slot, offset uint8) {
	address := c.reg.ReadU32(configAddressOffset)
	offset = uint8(bitutil.GetBits(address, 0, 8))
	slot = uint8(bitutil.GetBits(address, 11, 5))
	bus = uint8(bitutil.GetBits(address, 16, 8))
	return bus, slot, offset
}

func (c *ConfigSpace) onDataWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	bus, slot, offset := c.selectedAddress()
	d, ok := c.devices[busSlot{bus, slot}]
	idx := offset / 4
	if !ok || int(idx) >= len(d.words) {
		return
	}
	value := c.reg.ReadU32(configDataOffset)
	if bar := int(idx) - registerBAR0; bar >= 0 && bar < 6 {
		value &= d.barSizeMask[bar]
	}
	d.words[idx] = value
}

func (c *ConfigSpace) configRead(bus, slot, offset uint8) uint32 {
	c.mu.Lock()
	var address uint32
	bitutil.SetBits(&address, 0, 8, uint32(offset))
	bitutil.SetBits(&address, 11, 5, uint32(slot))
	bitutil.SetBits(&address, 16, 8, uint32(bus))
	bitutil.SetBit(&address, 31, true)
	d, ok := c.devices[busSlot{bus, slot}]
	c.mu.Unlock()

	c.reg.WriteU32(configAddressOffset, address)
	if !ok {
		return 0xffffffff
	}
	idx := offset / 4
	if int(idx) >= len(d.words) {
		return 0
	}
	return d.words[idx]
}

func (c *ConfigSpace) configWrite(bus, slot, offset uint8, value uint32) {
	var address uint32
	bitutil.SetBits(&address, 0, 8, uint32(offset))
	bitutil.SetBits(&address, 11, 5, uint32(slot))
	bitutil.SetBits(&address, 16, 8, uint32(bus))
	bitutil.SetBit(&address, 31, true)
	c.reg.WriteU32(configAddressOffset, address)
	c.reg.WriteU32(configDataOffset, value)
}

// FindDevice scans every bus/slot for a function-0 device matching
// vendor/device, returning its Address and header type. Grounded on
// Pci::find_device / PciAddress::upgrade.
func (c *ConfigSpace) FindDevice(vendor, device uint16) (Address, HeaderType, bool) {
	for bus := 0; bus <= 0xff; bus++ {
		for slot := 0; slot <= 0xff; slot++ {
			idVendor := c.configRead(uint8(bus), uint8(slot), 0)
			if idVendor == 0xffffffff {
				continue
			}
			probedVendor := uint16(bitutil.GetBits(idVendor, 0, 16))
			probedDevice := uint16(bitutil.GetBits(idVendor, 16, 16))
			if probedVendor == vendor && probedDevice == device {
				headerWord := c.configRead(uint8(bus), uint8(slot), registerHeaderType*4)
				header := HeaderType(bitutil.GetBits(headerWord, 16, 8))
				return Address{bus: uint8(bus), slot: uint8(slot), space: c}, header, true
			}
		}
	}
	return Address{}, 0, false
}

// Address identifies a device's config-space location and provides the
// driver-facing operations original_source exposes on GeneralPciDevice.
type Address struct {
	bus, slot uint8
	space     *ConfigSpace
}

func (a Address) readRegister(register uint8) uint32 {
	return a.space.configRead(a.bus, a.slot, register*4)
}

func (a Address) writeRegister(register uint8, value uint32) {
	a.space.configWrite(a.bus, a.slot, register*4, value)
}

// MmapRange is a device's memory-mapped BAR, decoded the size-probe way:
// write all-ones, read back the masked size, restore the original value.
type MmapRange struct {
	Start  uint32
	Length uint32
}

// FindMmapRange scans BAR0..BAR5 for the first memory-mapped (non-I/O)
// base address, returning its decoded start/length. Grounded on
// GeneralPciDevice::find_mmap_range.
func (a Address) FindMmapRange() (MmapRange, bool) {
	for i := uint8(0); i <= 5; i++ {
		reg := registerBAR0 + i
		base := a.readRegister(reg)
		if !bitutil.GetBit(base, 0) && base > 0 {
			start := base &^ 0b1111

			a.writeRegister(reg, 0xffffffff)
			end := a.readRegister(reg)
			length := ^(end &^ 0b1111) + 1
			a.writeRegister(reg, base)

			return MmapRange{Start: start, Length: length}, true
		}
	}
	return MmapRange{}, false
}

// EnableBusMastering sets the bus-master enable bit in the command
// register so the device may initiate DMA.
func (a Address) EnableBusMastering() {
	statusCommand := a.readRegister(registerCommandStatus)
	bitutil.SetBit(&statusCommand, commandBusMasterBit, true)
	a.writeRegister(registerCommandStatus, statusCommand)
}

// IRQNum returns the device's assigned legacy interrupt line.
func (a Address) IRQNum() uint8 {
	reg := a.readRegister(registerInterruptLine)
	return uint8(bitutil.GetBits(reg, 0, 8))
}

// RequireGeneral returns an error if header is not a general (type 0)
// device header — bridges expose a different register layout that
// kernelcore's drivers never bind to directly.
func RequireGeneral(header HeaderType) error {
	if header != HeaderGeneral {
		return kerr.New("pci.RequireGeneral", kerr.CodeHardwareMismatch, "expected a general PCI device header")
	}
	return nil
}
