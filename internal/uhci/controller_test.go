package uhci

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/kernelcore/internal/clock"
	"github.com/behrlich/kernelcore/internal/mmio"
)

func newTestController(t *testing.T) (*Controller, *clock.Monotonic, context.CancelFunc) {
	t.Helper()
	regs := mmio.New(0x20)
	m := clock.NewMonotonic(256.0)
	requester, service, interruptList := clock.NewWakeupHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	go service.Run(ctx)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick := m.Increment()
				interruptList.WakeupIfNecessary(tick)
			}
		}
	}()

	return NewController(regs, m, requester), m, cancel
}

func TestInitRunsBringUpSequence(t *testing.T) {
	c, _, cancel := newTestController(t)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	err := c.Init(ctx)
	require.NoError(t, err)

	assert.NotZero(t, c.regs.ReadU16(offsetInterrupts)&(1<<2))
}

func TestResetPortReportsConnectedAndEnabled(t *testing.T) {
	c, _, cancel := newTestController(t)
	defer cancel()

	// Simulate a device physically present on the port.
	c.regs.WriteU16(0x10, 1) // connected bit

	ctx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	ok, err := c.ResetPort(ctx, 0x10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetPortReportsNotConnected(t *testing.T) {
	c, _, cancel := newTestController(t)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	ok, err := c.ResetPort(ctx, 0x10)
	require.NoError(t, err)
	assert.False(t, ok)
}
