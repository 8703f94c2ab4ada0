package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateInRange(t *testing.T) {
	assert.NoError(t, Validate(0, 4))
	assert.NoError(t, Validate(3, 4))
}

func TestValidateOutOfRange(t *testing.T) {
	assert.Error(t, Validate(-1, 4))
	assert.Error(t, Validate(4, 4))
}

func TestPinUnpinDoesNotPanic(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		Pin(0)
		defer Unpin()
	}()
	<-done
}
