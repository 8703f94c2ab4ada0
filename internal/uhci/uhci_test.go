package uhci

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/kernelcore/internal/bitutil"
)

func TestNewScheduleFrameListPointsAtMaster(t *testing.T) {
	s := NewSchedule()
	for i, word := range s.frameList {
		l := decodeLink(word)
		require.Equal(t, linkQH, l.kind, "frame %d", i)
	}
}

func TestLinkPointerRoundTrip(t *testing.T) {
	var word uint32
	encodeLink(&word, link{kind: linkTD, idx: 7})
	assert.Equal(t, link{kind: linkTD, idx: 7}, decodeLink(word))

	encodeLink(&word, link{kind: linkQH, idx: 3})
	assert.Equal(t, link{kind: linkQH, idx: 3}, decodeLink(word))

	encodeLink(&word, link{kind: linkNone})
	assert.Equal(t, link{kind: linkNone}, decodeLink(word))
}

func TestGenerateTDSetsActiveAndFields(t *testing.T) {
	p := Packet{Pid: PidSetup, Address: 5, Endpoint: 0, Data: make([]byte, 8)}
	tdPtr, err := generateTD(p)
	require.NoError(t, err)
	assert.True(t, tdPtr.active())
	assert.Equal(t, uint8(0x80), tdPtr.status())
	assert.Equal(t, uint8(0b0010_1101), uint8(bitutil.GetBits(tdPtr[2], 0, 8)))
}

func TestGenerateTDRejectsOversizedPacket(t *testing.T) {
	p := Packet{Data: make([]byte, 2000)}
	_, err := generateTD(p)
	assert.Error(t, err)
}

func TestAppendWorkChainsAndLinksMasterQueue(t *testing.T) {
	s := NewSchedule()
	packets := []Packet{
		{Pid: PidSetup, Address: 1, Data: make([]byte, 8)},
		{Pid: PidIn, Address: 1, Data: make([]byte, 8)},
	}
	fut, err := s.AppendWork(packets)
	require.NoError(t, err)
	require.Len(t, fut.ids, 2)

	masterLink := s.master.elementLink()
	assert.Equal(t, linkTD, masterLink.kind)
	assert.Equal(t, fut.ids[0], masterLink.idx)

	firstLink := s.arena[fut.ids[0]].td.linkPointer()
	assert.Equal(t, link{kind: linkTD, idx: fut.ids[1]}, firstLink)

	assert.True(t, bitHigh(s.arena[fut.ids[1]].td[1], 24))
}

func bitHigh(word uint32, bit uint) bool {
	return (word>>bit)&1 == 1
}

func TestFutureWaitBlocksUntilComplete(t *testing.T) {
	s := NewSchedule()
	fut, err := s.AppendWork([]Packet{{Pid: PidIn, Address: 1, Data: make([]byte, 4)}})
	require.NoError(t, err)

	result := make(chan [][]byte, 1)
	go func() {
		data, err := fut.Wait(context.Background())
		require.NoError(t, err)
		result <- data
	}()

	select {
	case <-result:
		t.Fatal("Wait returned before the TD was completed")
	case <-time.After(50 * time.Millisecond):
	}

	s.CompleteTD(fut.ids[0], []byte{1, 2, 3, 4})

	select {
	case got := <-result:
		assert.Equal(t, [][]byte{{1, 2, 3, 4}}, got)
	case <-time.After(time.Second):
		t.Fatal("Wait never unblocked after CompleteTD")
	}
}

func TestFutureWaitRespectsContextCancellation(t *testing.T) {
	s := NewSchedule()
	fut, err := s.AppendWork([]Packet{{Pid: PidIn, Address: 1, Data: make([]byte, 4)}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := fut.Wait(ctx)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait never observed cancellation")
	}
}

func TestAppendWorkAppendsSecondChainAfterFirstCompletes(t *testing.T) {
	s := NewSchedule()
	fut1, err := s.AppendWork([]Packet{{Pid: PidSetup, Address: 1, Data: make([]byte, 8)}})
	require.NoError(t, err)
	s.CompleteTD(fut1.ids[0], nil)

	fut2, err := s.AppendWork([]Packet{{Pid: PidIn, Address: 1, Data: make([]byte, 4)}})
	require.NoError(t, err)

	// Since the first chain's tail is now idle, the new chain must be
	// linked straight onto the master queue, not appended after it.
	masterLink := s.master.elementLink()
	assert.Equal(t, fut2.ids[0], masterLink.idx)
}
