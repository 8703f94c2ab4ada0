package tcp

import (
	"context"

	"github.com/behrlich/kernelcore/internal/async"
	"github.com/behrlich/kernelcore/internal/netframe"
)

// Connection is an established TCP connection handed to a listener's
// Accept. Read delivers bytes received from the peer in order; Write
// enqueues bytes for the egress service to transmit. Grounded on
// original_source/net/tcp.rs's TcpConnection.
type Connection struct {
	inbound  *async.Channel[[]byte] // filled by HandleSegment on PSH, drained by Read
	outbound *async.Channel[[]byte] // filled by Write, drained by the egress service
}

// Read blocks until a payload chunk has been received from the peer.
func (c *Connection) Read(ctx context.Context) ([]byte, error) {
	return c.inbound.Recv(ctx)
}

// Write enqueues data to be sent to the peer. It does not block on network
// delivery; the egress service picks it up and drives retransmission.
func (c *Connection) Write(data []byte) {
	c.outbound.Send(append([]byte(nil), data...))
}

// Listener is a server-side TCP listen endpoint: each accepted handshake
// delivers one Connection. Grounded on TcpListener.
type Listener struct {
	ch *async.Channel[*Connection]
}

// Accept blocks until a client completes the handshake, or ctx is done.
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	return l.ch.Recv(ctx)
}

// TryAccept returns immediately, reporting ok=false if no connection is
// pending.
func (l *Listener) TryAccept() (*Connection, bool) {
	return l.ch.TryRecv()
}

// OutgoingPacket is a fully-framed TCP segment ready to hand to the IPv4
// layer for transmission.
type OutgoingPacket struct {
	LocalIP  netframe.IPv4Addr
	RemoteIP netframe.IPv4Addr
	Payload  []byte
}

type listenerKey struct {
	ip   netframe.IPv4Addr
	port uint16
}

type connKey struct {
	remoteIP   netframe.IPv4Addr
	localIP    netframe.IPv4Addr
	remotePort uint16
	localPort  uint16
}

type stateKind int

const (
	stateUninit stateKind = iota
	stateSynAckSent
	stateConnected
)

type synAckSentState struct {
	seq, ack    uint32
	timeoutTick uint64
	lastFrame   OutgoingPacket
}

type unackedSegment struct {
	timestamp uint64
	params    SegmentParams
}

type connectedState struct {
	seq         uint32 // next sequence number we will send
	ackOut      uint32 // next byte expected from the peer
	ackIn       uint32
	window      uint16
	dupAckCount uint8
	unacked     []unackedSegment
	pendingOut  [][]byte
	inbound     *async.Channel[[]byte]
	outbound    *async.Channel[[]byte]
}

type connState struct {
	kind   stateKind
	synAck synAckSentState
	conn   connectedState
}
