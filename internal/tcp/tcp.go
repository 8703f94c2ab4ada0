package tcp

import (
	"context"

	"github.com/behrlich/kernelcore/internal/async"
	"github.com/behrlich/kernelcore/internal/clock"
	"github.com/behrlich/kernelcore/internal/kerr"
	"github.com/behrlich/kernelcore/internal/klog"
	"github.com/behrlich/kernelcore/internal/krand"
	"github.com/behrlich/kernelcore/internal/netframe"
)

// Tcp owns every per-connection state machine and listener registration in
// the kernel. One instance serves the whole kernel; HandleSegment routes an
// incoming segment to its 4-tuple's state, TryService/Service drain
// outgoing work fairly across all connections. Grounded on
// original_source/net/tcp.rs's Tcp struct.
type Tcp struct {
	listeners *async.Mutex[map[listenerKey]*async.Channel[*Connection]]
	states    *async.Mutex[map[connKey]*connState]

	monotonic *clock.Monotonic
	requester *clock.WakeupRequester
	rng       *krand.Source
	log       *klog.Logger

	serviceNotify *async.WakerList
}

// New creates an empty Tcp bound to the kernel's clock and a random source
// for initial sequence numbers.
func New(monotonic *clock.Monotonic, requester *clock.WakeupRequester, rng *krand.Source, log *klog.Logger) *Tcp {
	if log == nil {
		log = klog.Default()
	}
	return &Tcp{
		listeners:     async.NewMutex[map[listenerKey]*async.Channel[*Connection]](make(map[listenerKey]*async.Channel[*Connection])),
		states:        async.NewMutex[map[connKey]*connState](make(map[connKey]*connState)),
		monotonic:     monotonic,
		requester:     requester,
		rng:           rng,
		log:           log,
		serviceNotify: async.NewWakerList(),
	}
}

// Listen registers a listener for ip:port; every completed handshake
// addressed to it delivers a Connection via the returned Listener's Accept.
func (t *Tcp) Listen(ctx context.Context, ip netframe.IPv4Addr, port uint16) (*Listener, error) {
	ch := async.NewChannel[*Connection]()
	guard, err := t.listeners.Lock(ctx)
	if err != nil {
		return nil, err
	}
	m := guard.Get()
	m[listenerKey{ip: ip, port: port}] = ch
	guard.Set(m)
	guard.Unlock()
	return &Listener{ch: ch}, nil
}

func satAddUint8(v uint8, n uint8) uint8 {
	if int(v)+int(n) > 0xff {
		return 0xff
	}
	return v + n
}

// HandleSegment routes an incoming TCP segment to its 4-tuple's state
// machine, returning a response segment to transmit (if any). Grounded on
// Tcp::handle_frame, including its reset-and-reprocess behavior on an
// unexpected SYN in SynAckSent and its per-state ingress table from spec
// §4.J.
func (t *Tcp) HandleSegment(ctx context.Context, seg Segment, sourceIP, destIP netframe.IPv4Addr) ([]byte, error) {
	key := connKey{
		remoteIP:   sourceIP,
		localIP:    destIP,
		remotePort: seg.SourcePort(),
		localPort:  seg.DestPort(),
	}

	guard, err := t.states.Lock(ctx)
	if err != nil {
		return nil, err
	}
	states := guard.Get()
	st, ok := states[key]
	if !ok {
		st = &connState{kind: stateUninit}
		states[key] = st
		guard.Set(states)
	}

	var resp []byte
	for {
		flags := seg.Flags()
		switch st.kind {
		case stateUninit:
			if !flags.SYN {
				guard.Unlock()
				return nil, nil
			}

			seqNum := uint32(t.rng.Uint64())
			ackNum := seg.SeqNum() + 1
			frame := GenerateSegment(SegmentParams{
				SourceAddress: destIP,
				DestAddress:   sourceIP,
				SourcePort:    seg.DestPort(),
				DestPort:      seg.SourcePort(),
				SeqNum:        seqNum,
				AckNum:        ackNum,
				WindowSize:    seg.WindowSize(),
				Flags:         Flags{ACK: true, SYN: true},
			})

			timeout := t.monotonic.Get() + uint64(t.monotonic.TickFreq())
			st.kind = stateSynAckSent
			st.synAck = synAckSentState{
				seq: seqNum, ack: ackNum, timeoutTick: timeout,
				lastFrame: OutgoingPacket{LocalIP: destIP, RemoteIP: sourceIP, Payload: frame},
			}
			resp = frame

		case stateSynAckSent:
			if flags.SYN {
				t.log.Debug("tcp: resetting connection, unexpected syn", "key", key)
				st.kind = stateUninit
				st.synAck = synAckSentState{}
				continue
			}
			if flags.PSH {
				t.log.Debug("tcp: unexpected push in syn-ack state", "key", key)
				guard.Unlock()
				return nil, nil
			}
			if !flags.ACK {
				t.log.Debug("tcp: ack unset, ignoring", "key", key)
				guard.Unlock()
				return nil, nil
			}
			if seg.SeqNum() != st.synAck.ack {
				t.log.Error("tcp: unexpected sequence number in syn-ack ack", "ack", st.synAck.ack, "seq", seg.SeqNum())
				guard.Unlock()
				return nil, nil
			}

			listenerGuard, err := t.listeners.Lock(ctx)
			if err != nil {
				guard.Unlock()
				return nil, err
			}
			lch, ok := listenerGuard.Get()[listenerKey{ip: destIP, port: seg.DestPort()}]
			if !ok {
				listenerGuard.Unlock()
				t.log.Error("tcp: syn-ack ack for non-existent listener", "port", seg.DestPort())
				guard.Unlock()
				return nil, nil
			}

			inbound := async.NewChannel[[]byte]()
			outbound := async.NewChannel[[]byte]()
			conn := &Connection{inbound: inbound, outbound: outbound}

			st.kind = stateConnected
			st.conn = connectedState{
				seq:      st.synAck.seq + 1,
				ackOut:   st.synAck.ack + uint32(len(seg.Payload())),
				ackIn:    seg.AckNum(),
				window:   seg.WindowSize(),
				inbound:  inbound,
				outbound: outbound,
			}
			st.synAck = synAckSentState{}

			lch.Send(conn)
			listenerGuard.Unlock()
			guard.Unlock()
			t.serviceNotify.NotifyAll()
			return nil, nil

		case stateConnected:
			c := &st.conn
			if c.ackOut != seg.SeqNum() {
				t.log.Debug("tcp: seq did not match expected ack", "expected", c.ackOut, "got", seg.SeqNum())
				guard.Unlock()
				return nil, nil
			}
			c.ackOut = seg.SeqNum() + uint32(len(seg.Payload()))

			if seg.AckNum() == c.ackIn {
				c.dupAckCount = satAddUint8(c.dupAckCount, 1)
			} else {
				c.dupAckCount = 0
			}
			c.ackIn = seg.AckNum()

			if len(c.unacked) > 0 && c.unacked[0].params.SeqNum < seg.AckNum() {
				c.unacked = c.unacked[1:]
			}
			c.window = seg.WindowSize()

			ackFrame := GenerateSegment(SegmentParams{
				SourceAddress: destIP,
				DestAddress:   sourceIP,
				SourcePort:    seg.DestPort(),
				DestPort:      seg.SourcePort(),
				SeqNum:        c.seq,
				AckNum:        c.ackOut,
				WindowSize:    seg.WindowSize(),
				Flags:         Flags{ACK: true},
			})

			if flags.PSH {
				c.inbound.Send(append([]byte(nil), seg.Payload()...))
				guard.Unlock()
				t.serviceNotify.NotifyAll()
				return ackFrame, nil
			}

			guard.Unlock()
			t.serviceNotify.NotifyAll()
			return nil, nil

		default:
			kerr.Invariant("tcp.HandleSegment", "unreachable connection state")
		}

		guard.Set(states)
		guard.Unlock()
		t.serviceNotify.NotifyAll()
		return resp, nil
	}
}
