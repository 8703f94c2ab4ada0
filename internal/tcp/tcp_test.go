package tcp

import (
	"context"
	"testing"

	"github.com/behrlich/kernelcore/internal/clock"
	"github.com/behrlich/kernelcore/internal/krand"
	"github.com/behrlich/kernelcore/internal/netframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(tickFreq float32) (*Tcp, *clock.Monotonic) {
	monotonic := clock.NewMonotonic(tickFreq)
	requester, _, _ := clock.NewWakeupHandlers()
	rng := krand.New(0)
	return New(monotonic, requester, rng, nil), monotonic
}

var (
	sourceIP = netframe.IPv4Addr{192, 168, 2, 1}
	destIP   = netframe.IPv4Addr{192, 168, 2, 2}

	// tcpSynListener38 and tcpAck20 are real captured segments. Grounded on
	// original_source/net/tcp.rs's test_dropped_syn_ack_ack fixture.
	tcpSynListener38 = []byte{
		0x89, 0x06, 0x27, 0x0f, 0xcc, 0x6b, 0x38, 0x32, 0x00, 0x00, 0x00, 0x00, 0xa0, 0x02,
		0xfa, 0xf0, 0x22, 0xb5, 0x00, 0x00, 0x02, 0x04, 0x05, 0xb4, 0x04, 0x02, 0x08, 0x0a,
		0xc3, 0x8b, 0x2c, 0xc7, 0x00, 0x00, 0x00, 0x00, 0x01, 0x03, 0x03, 0x07,
	}
	tcpAck20 = []byte{
		0x89, 0x06, 0x27, 0x0f, 0xcc, 0x6b, 0x38, 0x33, 0x00, 0x39, 0x84, 0x21, 0x50, 0x10,
		0xfa, 0xf0, 0xf6, 0x80, 0x00, 0x00,
	}
)

func TestHandshakeSynAckRetransmitAndComplete(t *testing.T) {
	tcp, monotonic := newFixture(10)
	ctx := context.Background()

	listener, err := tcp.Listen(ctx, destIP, 9999)
	require.NoError(t, err)

	syn, err := ParseSegment(tcpSynListener38)
	require.NoError(t, err)

	resp, err := tcp.HandleSegment(ctx, syn, sourceIP, destIP)
	require.NoError(t, err)
	require.NotNil(t, resp)

	// handle_frame already returned the SYN-ACK directly; the service queue
	// should have nothing pending yet.
	_, ok := tcp.TryService()
	assert.False(t, ok)

	// After 2 seconds, the SYN-ACK retransmit timer should fire.
	monotonic.SetTickForTest(uint64(monotonic.TickFreq() * 2))

	pkt, ok := tcp.TryService()
	require.True(t, ok)

	synAck, err := ParseSegment(pkt.Payload)
	require.NoError(t, err)
	assert.True(t, synAck.Flags().SYN)
	assert.True(t, synAck.Flags().ACK)

	ack, err := ParseSegment(tcpAck20)
	require.NoError(t, err)
	_, err = tcp.HandleSegment(ctx, ack, sourceIP, destIP)
	require.NoError(t, err)

	conn, ok := listener.TryAccept()
	require.True(t, ok)
	assert.NotNil(t, conn)
}

// handshakeConnection drives a full SYN / SYN-ACK / ACK handshake and
// returns the resulting server-side Connection, advancing seq/ack the way
// MockClient does.
func handshakeConnection(t *testing.T, tcp *Tcp, listener *Listener, clientIP, serverIP netframe.IPv4Addr, clientPort, serverPort uint16, seq uint32) (*Connection, uint32, uint32) {
	t.Helper()
	ctx := context.Background()

	synFrame := GenerateSegment(SegmentParams{
		SourceAddress: clientIP, DestAddress: serverIP,
		SourcePort: clientPort, DestPort: serverPort,
		SeqNum: seq, Flags: Flags{SYN: true}, WindowSize: 5000,
	})
	seq++

	syn, err := ParseSegment(synFrame)
	require.NoError(t, err)
	respBytes, err := tcp.HandleSegment(ctx, syn, clientIP, serverIP)
	require.NoError(t, err)
	require.NotNil(t, respBytes)

	synAck, err := ParseSegment(respBytes)
	require.NoError(t, err)
	require.True(t, synAck.Flags().SYN)
	require.True(t, synAck.Flags().ACK)

	ack := synAck.AckNum()

	ackFrame := GenerateSegment(SegmentParams{
		SourceAddress: clientIP, DestAddress: serverIP,
		SourcePort: clientPort, DestPort: serverPort,
		SeqNum: seq, AckNum: synAck.SeqNum() + 1, Flags: Flags{ACK: true}, WindowSize: 5000,
	})
	ackSeg, err := ParseSegment(ackFrame)
	require.NoError(t, err)
	_, err = tcp.HandleSegment(ctx, ackSeg, clientIP, serverIP)
	require.NoError(t, err)

	conn, ok := listener.TryAccept()
	require.True(t, ok)
	return conn, seq, ack
}

func TestDupAckTriggersfastRetransmit(t *testing.T) {
	const clientPort, serverPort = 1234, 5678
	tcp, _ := newFixture(10)
	ctx := context.Background()

	listener, err := tcp.Listen(ctx, destIP, serverPort)
	require.NoError(t, err)

	conn, clientSeq, _ := handshakeConnection(t, tcp, listener, sourceIP, destIP, clientPort, serverPort, 150)

	conn.Write([]byte("hello world"))
	conn.Write([]byte("hello world 2"))

	pkt, ok := tcp.TryService()
	require.True(t, ok)
	seg, err := ParseSegment(pkt.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), seg.Payload())

	// Acknowledge exactly the first segment; the server's seq/payload-len
	// tells us the ack number to use without hardcoding the random ISN.
	newAck := seg.SeqNum() + uint32(len(seg.Payload()))

	ackFrame := GenerateSegment(SegmentParams{
		SourceAddress: sourceIP, DestAddress: destIP,
		SourcePort: clientPort, DestPort: serverPort,
		SeqNum: clientSeq, AckNum: newAck, Flags: Flags{ACK: true}, WindowSize: 5000,
	})
	dataAck, err := ParseSegment(ackFrame)
	require.NoError(t, err)

	resp, err := tcp.HandleSegment(ctx, dataAck, sourceIP, destIP)
	require.NoError(t, err)
	assert.Nil(t, resp)

	pkt, ok = tcp.TryService()
	require.True(t, ok)
	seg, err = ParseSegment(pkt.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world 2"), seg.Payload())

	// Nothing left to send after both packets went out.
	_, ok = tcp.TryService()
	assert.False(t, ok)

	// Two more duplicate ACKs of the same data should trigger fast
	// retransmit of the oldest unacknowledged segment (the second write).
	for i := 0; i < 2; i++ {
		resp, err := tcp.HandleSegment(ctx, dataAck, sourceIP, destIP)
		require.NoError(t, err)
		assert.Nil(t, resp)
	}

	_, ok = tcp.TryService()
	assert.True(t, ok)
}
