// Package faketransport is an in-memory stand-in for transport.Transport,
// used by every awg/capture controller test so they exercise real
// register/RAM read-modify-write logic without a real instrument on the
// other end of a socket.
package faketransport

import (
	"context"
	"encoding/binary"
	"sync"
)

// WriteRecord captures one Write call, for tests that assert on the
// sequence of register writes a controller operation performed.
type WriteRecord struct {
	Addr uint32
	Data []byte
}

// Fake is a byte-addressable memory that answers access.Transporter's
// Read/Write the way a real instrument endpoint would: a write lands at
// addr and is echoed back verbatim by a later read. Tests may also install
// an OnWrite hook to simulate hardware reacting to a write, such as a
// capture unit that marks itself done a moment after a START pulse.
type Fake struct {
	mu      sync.Mutex
	mem     map[uint32]byte
	writes  []WriteRecord
	OnWrite func(f *Fake, addr uint32, data []byte)
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{mem: make(map[uint32]byte)}
}

// Read returns length bytes starting at addr; unwritten bytes read as
// zero.
func (f *Fake) Read(_ context.Context, addr uint32, length uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, length)
	for i := range out {
		out[i] = f.mem[addr+uint32(i)]
	}
	return out, nil
}

// Write stores data starting at addr and records the call for later
// inspection.
func (f *Fake) Write(_ context.Context, addr uint32, data []byte) error {
	f.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	for i, b := range data {
		f.mem[addr+uint32(i)] = b
	}
	f.writes = append(f.writes, WriteRecord{Addr: addr, Data: cp})
	hook := f.OnWrite
	f.mu.Unlock()

	if hook != nil {
		hook(f, addr, cp)
	}
	return nil
}

// Writes returns every Write call observed so far, in order.
func (f *Fake) Writes() []WriteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WriteRecord, len(f.writes))
	copy(out, f.writes)
	return out
}

// WordAt reads the 4-byte little-endian word at addr directly, bypassing
// the Transporter interface; tests use this to assert on or seed register
// state.
func (f *Fake) WordAt(addr uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, 4)
	for i := range buf {
		buf[i] = f.mem[addr+uint32(i)]
	}
	return binary.LittleEndian.Uint32(buf)
}

// SetWordAt writes the 4-byte little-endian word v at addr directly,
// bypassing the Transporter interface and any OnWrite hook.
func (f *Fake) SetWordAt(addr uint32, v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	for i, b := range buf {
		f.mem[addr+uint32(i)] = b
	}
}

// SetBitAt sets or clears a single bit at addr directly.
func (f *Fake) SetBitAt(addr uint32, bit uint8, value bool) {
	word := f.WordAt(addr)
	if value {
		word |= 1 << bit
	} else {
		word &^= 1 << bit
	}
	f.SetWordAt(addr, word)
}
