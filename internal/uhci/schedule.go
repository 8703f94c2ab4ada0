package uhci

import (
	"sync"

	"github.com/behrlich/kernelcore/internal/kerr"
	"github.com/behrlich/kernelcore/internal/ring"
)

const (
	frameListLen  = 1024
	maxPacketLen  = 1024
	arenaCapacity = 4096
)

// slot is one arena entry: the TD itself plus the buffer the controller
// reads from or writes into.
type slot struct {
	td  td
	buf []byte
	set bool
}

// Schedule owns the frame list, the master queue head every frame entry
// points at, and the fixed-capacity TD arena new work is appended into.
type Schedule struct {
	mu sync.Mutex

	frameList [frameListLen]uint32
	master    qh

	arena    [arenaCapacity]slot
	nextFree int
	tail     int // index of the last appended TD, or -1 if none yet

	// pendingWakers holds channels a Wait call is blocked on; HandleIRQ
	// drains it once per interrupt, exactly mirroring the original's
	// single lock-free queue of Wakers drained by the IRQ handler.
	pendingWakers *ring.MPSC[chan struct{}]
}

// NewSchedule builds a frame list where every entry points at a fresh,
// idle master queue head.
func NewSchedule() *Schedule {
	s := &Schedule{tail: -1, pendingWakers: ring.NewMPSC[chan struct{}](256)}
	s.master.setHeadLink(link{kind: linkNone})
	s.master.setElementLink(link{kind: linkNone})
	for i := range s.frameList {
		encodeLink(&s.frameList[i], link{kind: linkQH, idx: 0})
	}
	return s
}

func generateTD(p Packet) (*td, error) {
	if len(p.Data) > maxPacketLen {
		return nil, kerr.New("uhci.generateTD", kerr.CodeInvalidArgument, "packet exceeds 1024 bytes")
	}
	var t td
	t.setLinkPointer(link{kind: linkNone})
	t.setLowSpeed(true) // enumeration assumes a low-speed device throughout
	t.setStatus(0x80)   // active
	t.setMaxLen(len(p.Data))
	t.setAddress(p.Address)
	t.setEndpoint(p.Endpoint)
	t.setPid(p.Pid.encode())
	t.setDataToggle(p.DataToggle)
	return &t, nil
}

// allocSlot bump-allocates the next arena entry. The arena is never
// resized, so every index handed out stays valid for the Schedule's
// lifetime — see the package doc's rationale.
func (s *Schedule) allocSlot(t td, buf []byte) (int, error) {
	if s.nextFree >= arenaCapacity {
		return 0, kerr.New("uhci.allocSlot", kerr.CodeRetryable, "TD arena exhausted")
	}
	idx := s.nextFree
	s.nextFree++
	s.arena[idx] = slot{td: t, buf: buf, set: true}
	return idx, nil
}

// AppendWork builds a TD chain for packets, links it onto the end of the
// schedule (the master queue's element pointer if nothing is outstanding,
// otherwise the previous tail TD), and returns a Future that resolves once
// every TD in the chain has been serviced.
func (s *Schedule) AppendWork(packets []Packet) (*Future, error) {
	if len(packets) == 0 {
		return &Future{schedule: s}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, len(packets))
	for i, p := range packets {
		t, err := generateTD(p)
		if err != nil {
			return nil, err
		}
		idx, err := s.allocSlot(*t, p.Data)
		if err != nil {
			return nil, err
		}
		ids[i] = idx
	}

	for i := 1; i < len(ids); i++ {
		s.arena[ids[i-1]].td.setLinkPointer(link{kind: linkTD, idx: ids[i]})
	}
	s.arena[ids[len(ids)-1]].td.setInterruptOnComplete(true)

	if s.tail == -1 {
		s.master.setElementLink(link{kind: linkTD, idx: ids[0]})
	} else if !s.arena[s.tail].set || s.arena[s.tail].td.status()&0x80 == 0 {
		s.master.setElementLink(link{kind: linkTD, idx: ids[0]})
	} else {
		s.arena[s.tail].td.setLinkPointer(link{kind: linkTD, idx: ids[0]})
	}
	s.tail = ids[len(ids)-1]

	return &Future{schedule: s, ids: ids}, nil
}

// CompleteTD simulates the controller finishing idx's transfer: it clears
// the active bit and writes result into the slot's buffer. Real hardware
// does this via DMA; tests and a software device model drive it here.
func (s *Schedule) CompleteTD(idx int, result []byte) {
	s.mu.Lock()
	st := &s.arena[idx]
	st.td.setStatus(st.td.status() &^ 0x80)
	if result != nil {
		copy(st.buf, result)
		st.buf = st.buf[:len(result)]
	}
	s.mu.Unlock()

	s.HandleIRQ()
}

// HandleIRQ drains every pending Wait registration, exactly mirroring the
// original's "pop every queued Waker and wake it" interrupt handler body.
func (s *Schedule) HandleIRQ() {
	for {
		ch, ok := s.pendingWakers.Pop()
		if !ok {
			return
		}
		close(ch)
	}
}
