package ring

// SPSC is the single-producer/single-consumer specialization of the same
// reserve/valid/head/tail ring MPSC implements (the protocol is safe for any
// producer count; SPSC exists as its own name for call sites where exactly
// one side is known never to be shared — e.g. a single service task
// composing with a single IRQ drain handler).
type SPSC[T any] struct {
	*MPSC[T]
}

// NewSPSC creates an SPSC ring with the given fixed capacity.
func NewSPSC[T any](capacity int) *SPSC[T] {
	return &SPSC[T]{MPSC: NewMPSC[T](capacity)}
}
