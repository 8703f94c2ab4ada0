package kmetrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserveLatencyBucketing(t *testing.T) {
	m := New()
	m.ObserveLatency(500)        // bucket 0 (<=1us)
	m.ObserveLatency(5_000_000)  // bucket 4 (<=10ms)
	m.ObserveLatency(50_000_000_000) // overflow -> last bucket

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.LatencyBuckets[0])
	assert.EqualValues(t, 1, snap.LatencyBuckets[4])
	assert.EqualValues(t, 1, snap.LatencyBuckets[numLatencyBuckets-1])
	assert.EqualValues(t, 3, snap.LatencyBuckets[0]+snap.LatencyBuckets[4]+snap.LatencyBuckets[7])
}

func TestSnapshotAverage(t *testing.T) {
	m := New()
	m.ObserveLatency(100)
	m.ObserveLatency(300)
	snap := m.Snapshot()
	assert.Equal(t, 200.0, snap.AverageLatency)
}

func TestCountersIndependent(t *testing.T) {
	m := New()
	m.IRQs.Add(3)
	m.DupAcks.Add(2)
	snap := m.Snapshot()
	assert.EqualValues(t, 3, snap.IRQs)
	assert.EqualValues(t, 2, snap.DupAcks)
	assert.EqualValues(t, 0, snap.Retransmits)
}
