package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdatedValueReadWrite(t *testing.T) {
	v := NewUpdatedValue(3)
	assert.Equal(t, 3, v.Read())
	v.Write(4)
	assert.Equal(t, 4, v.Read())
}

func TestUpdatedValueWaitUnblocksOnWrite(t *testing.T) {
	v := NewUpdatedValue(3)
	done := make(chan int, 1)
	go func() {
		got, err := v.Wait(context.Background())
		require.NoError(t, err)
		done <- got
	}()

	time.Sleep(10 * time.Millisecond)
	v.Write(9)

	select {
	case got := <-done:
		assert.Equal(t, 9, got)
	case <-time.After(time.Second):
		t.Fatal("wait never unblocked")
	}
}

func TestUpdatedValueWaitCtxCancel(t *testing.T) {
	v := NewUpdatedValue(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
