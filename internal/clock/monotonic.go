// Package clock implements kernelcore's notion of time: a monotonic tick
// counter advanced by the RTC interrupt, an RTC CMOS register decoder, and a
// wakeup service that lets any task sleep until a future tick without
// polling. Grounded on original_source/time.rs, io/rtc.rs, and sleep.rs.
package clock

import "sync/atomic"

// Monotonic is a tick counter advanced once per RTC interrupt. Grounded on
// original_source/time.rs's MonotonicTime.
type Monotonic struct {
	tick     atomic.Uint64
	tickFreq float32
}

// NewMonotonic creates a Monotonic counter starting at tick 0, ticking at
// tickFreq Hz.
func NewMonotonic(tickFreq float32) *Monotonic {
	return &Monotonic{tickFreq: tickFreq}
}

// Increment advances the tick counter by one and returns the new value.
func (m *Monotonic) Increment() uint64 {
	return m.tick.Add(1)
}

// Get returns the current tick count.
func (m *Monotonic) Get() uint64 {
	return m.tick.Load()
}

// TickFreq returns the configured ticks-per-second rate.
func (m *Monotonic) TickFreq() float32 {
	return m.tickFreq
}

// SetTickForTest forces the tick counter to an arbitrary value. Exists only
// to let tests deterministically exercise wakeup-time math without waiting
// in real time; production code never calls this.
func (m *Monotonic) SetTickForTest(val uint64) {
	m.tick.Store(val)
}
