package async

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWakerListNotifyOne(t *testing.T) {
	wl := NewWakerList()
	h1 := wl.Register()
	h2 := wl.Register()
	defer h1.Release()
	defer h2.Release()

	wl.NotifyOne()

	woken := 0
	select {
	case <-h1.C():
		woken++
	default:
	}
	select {
	case <-h2.C():
		woken++
	default:
	}
	assert.Equal(t, 1, woken)
}

func TestWakerListNotifyAll(t *testing.T) {
	wl := NewWakerList()
	h1 := wl.Register()
	h2 := wl.Register()
	defer h1.Release()
	defer h2.Release()

	wl.NotifyAll()

	select {
	case <-h1.C():
	default:
		t.Fatal("h1 not woken")
	}
	select {
	case <-h2.C():
	default:
		t.Fatal("h2 not woken")
	}
}

func TestWakerListReleaseStopsNotify(t *testing.T) {
	wl := NewWakerList()
	h1 := wl.Register()
	h1.Release()

	wl.NotifyAll()

	select {
	case <-h1.C():
		t.Fatal("released handle should not be notified")
	default:
	}
}
