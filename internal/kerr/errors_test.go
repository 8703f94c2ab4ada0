package kerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := New("uhci.reset", CodeHardwareMismatch, "port status readback mismatch")
	assert.Contains(t, e.Error(), "uhci.reset")
	assert.Contains(t, e.Error(), "hardware configuration mismatch")
}

func TestWrapPreservesCode(t *testing.T) {
	inner := New("tcp.parse", CodeProtocolDrop, "short segment")
	wrapped := Wrap("tcp.ingress", inner)
	assert.Equal(t, CodeProtocolDrop, wrapped.Code)
	assert.True(t, errors.Is(wrapped, inner))
}

func TestIsCode(t *testing.T) {
	err := New("rtl8139.init", CodeHardwareMismatch, "MMIO length wrong")
	assert.True(t, IsCode(err, CodeHardwareMismatch))
	assert.False(t, IsCode(err, CodeTimeout))
}

func TestInvariantPanics(t *testing.T) {
	assert.Panics(t, func() {
		Invariant("heap.free", "next-pointer non-monotonic")
	})
}

func TestResourceExhaustedPanics(t *testing.T) {
	assert.Panics(t, func() {
		ResourceExhausted("exec.wake", "run-queue full")
	})
}
