package tcp

import (
	"context"
	"time"
)

// servicePollInterval bounds how long Service waits between rescans while
// idle; HandleSegment and Write both notify immediately on new work, so in
// practice this only matters for time-driven events (the SYN-ACK
// retransmit timer) which nothing else wakes the service for.
const servicePollInterval = 5 * time.Millisecond

// TryService performs one non-blocking fairness pass over every connection,
// returning the first piece of outgoing work found. Grounded on
// OutgoingPoller::poll: fast-retransmit on dupAckCount>=2 takes priority
// over fresh pendingOut/outbound data, and a SynAckSent past its timeout
// resends its SYN-ACK and pushes the timeout forward by one tick-second.
func (t *Tcp) TryService() (OutgoingPacket, bool) {
	guard, ok := t.states.TryLock()
	if !ok {
		return OutgoingPacket{}, false
	}
	defer guard.Unlock()

	states := guard.Get()
	for key, st := range states {
		switch st.kind {
		case stateConnected:
			c := &st.conn

			if c.dupAckCount >= 2 && len(c.unacked) > 0 {
				packet := c.unacked[0]
				c.unacked = c.unacked[1:]
				c.seq = packet.params.SeqNum + uint32(len(packet.params.Payload))
				for _, remaining := range c.unacked {
					c.pendingOut = append(c.pendingOut, remaining.params.Payload)
				}
				c.unacked = nil
				return OutgoingPacket{
					LocalIP:  key.localIP,
					RemoteIP: key.remoteIP,
					Payload:  GenerateSegment(packet.params),
				}, true
			}

			var data []byte
			if len(c.pendingOut) > 0 {
				data = c.pendingOut[0]
				c.pendingOut = c.pendingOut[1:]
			} else if d, ok := c.outbound.TryRecv(); ok {
				data = d
			} else {
				continue
			}

			return t.writeRequestToOutgoing(key, c, data), true

		case stateSynAckSent:
			if t.monotonic.Get() > st.synAck.timeoutTick {
				st.synAck.timeoutTick += uint64(t.monotonic.TickFreq())
				return st.synAck.lastFrame, true
			}
		}
	}
	return OutgoingPacket{}, false
}

// writeRequestToOutgoing builds an ACK-flagged push segment from data,
// advances seq, and records it as unacknowledged. Grounded on
// write_request_to_outgoing_packet / generate_tcp_push.
func (t *Tcp) writeRequestToOutgoing(key connKey, c *connectedState, data []byte) OutgoingPacket {
	params := SegmentParams{
		SourceAddress: key.localIP,
		DestAddress:   key.remoteIP,
		SourcePort:    key.localPort,
		DestPort:      key.remotePort,
		SeqNum:        c.seq,
		AckNum:        c.ackOut,
		WindowSize:    512,
		Flags:         Flags{ACK: true},
		Payload:       data,
	}
	c.seq += uint32(len(data))
	c.unacked = append(c.unacked, unackedSegment{timestamp: t.monotonic.Get(), params: params})

	return OutgoingPacket{
		LocalIP:  key.localIP,
		RemoteIP: key.remoteIP,
		Payload:  GenerateSegment(params),
	}
}

// nextSynAckTimeout returns the earliest pending SYN-ACK retransmit
// deadline across all half-open connections, if any.
func (t *Tcp) nextSynAckTimeout() (uint64, bool) {
	guard, ok := t.states.TryLock()
	if !ok {
		return 0, false
	}
	defer guard.Unlock()

	found := false
	var earliest uint64
	for _, st := range guard.Get() {
		if st.kind != stateSynAckSent {
			continue
		}
		if !found || st.synAck.timeoutTick < earliest {
			earliest = st.synAck.timeoutTick
			found = true
		}
	}
	return earliest, found
}

// Service blocks until outgoing work is available or ctx is done, draining
// connections fairly the way TryService does on each wake. When a SYN-ACK
// retransmit is pending, it registers with the kernel's WakeupRequester so
// the RTC interrupt handler wakes it the moment the deadline tick arrives,
// rather than relying solely on the poll-interval fallback.
func (t *Tcp) Service(ctx context.Context) (OutgoingPacket, error) {
	handle := t.serviceNotify.Register()
	defer handle.Release()

	for {
		if pkt, ok := t.TryService(); ok {
			return pkt, nil
		}

		var timeout <-chan struct{}
		if tick, ok := t.nextSynAckTimeout(); ok {
			ch, err := t.requester.RegisterWakeupTime(ctx, tick)
			if err != nil {
				return OutgoingPacket{}, err
			}
			timeout = ch
		}

		select {
		case <-handle.C():
		case <-timeout:
		case <-time.After(servicePollInterval):
		case <-ctx.Done():
			return OutgoingPacket{}, ctx.Err()
		}
	}
}
