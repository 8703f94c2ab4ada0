// Package kmetrics tracks performance and operational counters for kernelcore
// subsystems (executor polls, driver IRQs, retransmits), mirroring the
// atomic-counter/latency-histogram shape ublk devices use to track I/O ops.
package kmetrics

import "sync/atomic"

// LatencyBuckets defines histogram bucket upper bounds in nanoseconds, from
// 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics aggregates counters for one subsystem instance (an executor, a NIC,
// a UHCI controller, a TCP connection table).
type Metrics struct {
	Polls       atomic.Uint64 // executor: futures polled
	Wakes       atomic.Uint64 // executor: wake() calls observed
	IRQs        atomic.Uint64 // driver: interrupts handled
	Retransmits atomic.Uint64 // tcp: retransmissions sent
	DupAcks     atomic.Uint64 // tcp: duplicate acks observed
	Drops       atomic.Uint64 // protocol-level drops (§7)

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	latencyBuckets [numLatencyBuckets]atomic.Uint64
}

// New creates a zeroed Metrics instance.
func New() *Metrics { return &Metrics{} }

// ObserveLatency records one operation's latency into the cumulative total
// and the matching histogram bucket.
func (m *Metrics) ObserveLatency(ns uint64) {
	m.TotalLatencyNs.Add(ns)
	m.OpCount.Add(1)
	for i, bound := range LatencyBuckets {
		if ns <= bound {
			m.latencyBuckets[i].Add(1)
			return
		}
	}
	m.latencyBuckets[numLatencyBuckets-1].Add(1)
}

// Snapshot is a point-in-time copy safe to read without racing the counters.
type Snapshot struct {
	Polls          uint64
	Wakes          uint64
	IRQs           uint64
	Retransmits    uint64
	DupAcks        uint64
	Drops          uint64
	AverageLatency float64
	LatencyBuckets [numLatencyBuckets]uint64
}

// Snapshot reads every counter into a Snapshot.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Polls:       m.Polls.Load(),
		Wakes:       m.Wakes.Load(),
		IRQs:        m.IRQs.Load(),
		Retransmits: m.Retransmits.Load(),
		DupAcks:     m.DupAcks.Load(),
		Drops:       m.Drops.Load(),
	}
	for i := range s.LatencyBuckets {
		s.LatencyBuckets[i] = m.latencyBuckets[i].Load()
	}
	if n := m.OpCount.Load(); n > 0 {
		s.AverageLatency = float64(m.TotalLatencyNs.Load()) / float64(n)
	}
	return s
}
