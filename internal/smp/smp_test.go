package smp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/kernelcore/internal/apic"
	"github.com/behrlich/kernelcore/internal/clock"
	"github.com/behrlich/kernelcore/internal/mmio"
)

func newTestTopology() (*Topology, *clock.Monotonic) {
	regs := mmio.New(0x400)
	a := apic.New(regs)
	m := clock.NewMonotonic(256.0)
	return NewTopology(a, m), m
}

func TestBringUpRegistersAllCPUs(t *testing.T) {
	topo, m := newTestTopology()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct {
		d   *Dispatcher
		err error
	}, 1)
	go func() {
		d, err := topo.BringUp(ctx, 3)
		done <- struct {
			d   *Dispatcher
			err error
		}{d, err}
	}()

	for i := 0; i < 600; i++ {
		time.Sleep(time.Millisecond)
		m.Increment()
	}

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.ElementsMatch(t, []int{0, 1, 2}, res.d.CPUs())
	case <-time.After(5 * time.Second):
		t.Fatal("BringUp never completed")
	}
}

func TestSubmitRunsOnTargetCPU(t *testing.T) {
	d := NewDispatcher()
	wake := d.registerCPU(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go idleLoop(ctx, d, 0, wake)

	var ran atomic.Bool
	result := make(chan struct{})
	err := d.Submit(0, func() {
		ran.Store(true)
		close(result)
	})
	require.NoError(t, err)

	select {
	case <-result:
	case <-time.After(time.Second):
		t.Fatal("submitted function never ran")
	}
	assert.True(t, ran.Load())
}

func TestSubmitToUnregisteredCPUErrors(t *testing.T) {
	d := NewDispatcher()
	err := d.Submit(7, func() {})
	assert.Error(t, err)
}
