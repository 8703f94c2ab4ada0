// Package mmio models a hardware register file as an addressable, lockable
// byte-backed store. Grounded on backend/mem.go's sharded-RWMutex memory
// backend; a register file is orders of magnitude smaller than a ublk
// device's backing store, so kernelcore uses one lock for the whole
// register bank rather than mem.go's per-64KiB-shard split, but keeps the
// same "plain []byte behind a mutex, typed accessors on top" shape.
package mmio

import (
	"encoding/binary"
	"sync"
)

// Registers is a fixed-size, little-endian-addressable register file.
// Drivers (rtl8139, uhci, apic) read and write through it instead of raw
// pointers so register access can be exercised and observed in tests.
type Registers struct {
	mu    sync.Mutex
	data  []byte
	hooks map[int][]func()
}

// New creates a zeroed register file of the given size in bytes.
func New(size int) *Registers {
	return &Registers{data: make([]byte, size), hooks: make(map[int][]func())}
}

// Size reports the register file's size in bytes.
func (r *Registers) Size() int { return len(r.data) }

// OnWrite registers fn to run synchronously whenever a write touches
// exactly the byte at offset as its first byte — drivers use this to react
// to command-register writes (e.g. RTL8139's transmit-start register) the
// same cycle they land.
func (r *Registers) OnWrite(offset int, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[offset] = append(r.hooks[offset], fn)
}

func (r *Registers) fireHooks(offset int) {
	for _, fn := range r.hooks[offset] {
		fn()
	}
}

// ReadU8 reads one byte at offset.
func (r *Registers) ReadU8(offset int) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[offset]
}

// WriteU8 writes one byte at offset.
func (r *Registers) WriteU8(offset int, v uint8) {
	r.mu.Lock()
	r.data[offset] = v
	hooks := append([]func(){}, r.hooks[offset]...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// ReadU16 reads a little-endian uint16 at offset.
func (r *Registers) ReadU16(offset int) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return binary.LittleEndian.Uint16(r.data[offset : offset+2])
}

// WriteU16 writes a little-endian uint16 at offset.
func (r *Registers) WriteU16(offset int, v uint16) {
	r.mu.Lock()
	binary.LittleEndian.PutUint16(r.data[offset:offset+2], v)
	hooks := append([]func(){}, r.hooks[offset]...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// ReadU32 reads a little-endian uint32 at offset.
func (r *Registers) ReadU32(offset int) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return binary.LittleEndian.Uint32(r.data[offset : offset+4])
}

// WriteU32 writes a little-endian uint32 at offset.
func (r *Registers) WriteU32(offset int, v uint32) {
	r.mu.Lock()
	binary.LittleEndian.PutUint32(r.data[offset:offset+4], v)
	hooks := append([]func(){}, r.hooks[offset]...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// ReadBytes copies len(buf) bytes starting at offset into buf.
func (r *Registers) ReadBytes(offset int, buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(buf, r.data[offset:offset+len(buf)])
}

// WriteBytes copies buf into the register file starting at offset.
func (r *Registers) WriteBytes(offset int, buf []byte) {
	r.mu.Lock()
	copy(r.data[offset:offset+len(buf)], buf)
	hooks := append([]func(){}, r.hooks[offset]...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
