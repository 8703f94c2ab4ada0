package clock

import (
	"fmt"

	"github.com/behrlich/kernelcore/internal/mmio"
)

// TickFreq is the MC146818 periodic-interrupt rate kernelcore configures the
// RTC for: 256 Hz, per original_source/io/rtc.rs's Rtc::tick_freq.
const TickFreq float32 = 256.0

const (
	controlOffset = 0
	dataOffset    = 1
)

const (
	regSeconds = 0x00
	regMinutes = 0x02
	regHours   = 0x04
	regWeekday = 0x06
	regDay     = 0x07
	regMonth   = 0x08
	regYear    = 0x09
	regStatusA = 0x0a
	regStatusB = 0x0b
	regStatusC = 0x0c
	regCentury = 0x32
)

const nmiEnableMask = 0 // NMI stays enabled; original always passes nmi_enable=true.

// DateTime is a decoded CMOS real-time-clock reading.
type DateTime struct {
	Seconds, Minutes, Hours, Weekday, Day, Month, Year, Century uint8
}

// RTC decodes the MC146818 CMOS real-time clock behind a 2-byte register
// pair (index/control at offset 0, data at offset 1), matching the original
// port-IO range 0x70-0x71. Grounded on original_source/io/rtc.rs.
type RTC struct {
	io *mmio.Registers
}

// NewRTC wraps a 2-register CMOS index/data port pair and configures 24-hour
// binary mode, a 256 Hz periodic interrupt rate, and enables the periodic
// interrupt.
func NewRTC(io *mmio.Registers) (*RTC, error) {
	if io.Size() < 2 {
		return nil, fmt.Errorf("clock: RTC io range must be at least 2 bytes, got %d", io.Size())
	}
	r := &RTC{io: io}
	r.setDataFormat()
	r.setInterruptRate()
	r.enableInterrupts()
	return r, nil
}

func (r *RTC) selectReg(reg uint8) {
	r.io.WriteU8(controlOffset, nmiEnableMask|reg)
}

func (r *RTC) readReg(reg uint8) uint8 {
	r.selectReg(reg)
	return r.io.ReadU8(dataOffset)
}

func (r *RTC) writeReg(reg uint8, val uint8) {
	r.selectReg(reg)
	r.io.WriteU8(dataOffset, val)
}

func (r *RTC) updateInProgress() bool {
	const inProgressMask = 1 << 7
	return r.readReg(regStatusA)&inProgressMask == inProgressMask
}

func (r *RTC) enableInterrupts() {
	prev := r.readReg(0x8b)
	r.writeReg(0x8b, prev|0x40)
}

func (r *RTC) setInterruptRate() {
	data := r.readReg(regStatusA)
	data = (data & 0xf0) | 1
	r.writeReg(regStatusA, data)
}

func (r *RTC) setDataFormat() {
	status := r.readReg(regStatusB)
	status |= 1 << 1 // 24-hour mode
	status |= 1 << 2 // binary (not BCD) format
	r.writeReg(regStatusB, status)
}

// ClearInterruptMask acknowledges a pending periodic interrupt by reading
// status register C; must be called once per tick from the interrupt
// handler or the RTC stops firing.
func (r *RTC) ClearInterruptMask() {
	r.readReg(regStatusC)
}

func (r *RTC) updateGuardedOp(f func()) {
	for {
		for r.updateInProgress() {
		}
		f()
		if r.updateInProgress() {
			continue
		}
		break
	}
}

// Read decodes the current date/time, retrying if an update was in progress
// mid-read (the MC146818 update cycle can corrupt a read straddling it).
func (r *RTC) Read() DateTime {
	var dt DateTime
	r.updateGuardedOp(func() {
		dt = DateTime{
			Seconds: r.readReg(regSeconds),
			Minutes: r.readReg(regMinutes),
			Hours:   r.readReg(regHours),
			Weekday: r.readReg(regWeekday),
			Day:     r.readReg(regDay),
			Month:   r.readReg(regMonth),
			Year:    r.readReg(regYear),
			Century: r.readReg(regCentury),
		}
	})
	return dt
}

// Write programs the RTC to dt.
func (r *RTC) Write(dt DateTime) {
	r.updateGuardedOp(func() {
		r.writeReg(regSeconds, dt.Seconds)
		r.writeReg(regMinutes, dt.Minutes)
		r.writeReg(regHours, dt.Hours)
		r.writeReg(regWeekday, dt.Weekday)
		r.writeReg(regDay, dt.Day)
		r.writeReg(regMonth, dt.Month)
		r.writeReg(regYear, dt.Year)
		r.writeReg(regCentury, dt.Century)
	})
}
