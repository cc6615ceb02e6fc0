// Package access turns the raw byte exchange transport.Transport offers
// into the three accessor shapes the controllers are written against:
// word/bit-addressable registers (RegisterAccessor), bulk 32-byte-aligned
// sample RAM (WaveRamAccessor), and word/bit-addressable registry entries
// reached over the wave-RAM port (ParamRegistryAccessor).
//
// Register-space addresses are small and are sent on the wire unshifted.
// Wave-RAM-space addresses are always a multiple of memmap.WaveRamWordSize
// and are sent on the wire as a RAM-word index (byteAddr/32), since the
// instrument's address counters are word-, not byte-, granular — this also
// keeps every wave-RAM address within the wire frame's 32-bit field even
// though the logical byte address space is wider.
package access

import (
	"context"
	"encoding/binary"

	"github.com/lattice-rf/awgctrl/memmap"
	"github.com/lattice-rf/awgctrl/xerr"
)

// Transporter is the subset of transport.Transport the accessors need; a
// fake implementation backs every controller test.
type Transporter interface {
	Read(ctx context.Context, addr uint32, length uint16) ([]byte, error)
	Write(ctx context.Context, addr uint32, data []byte) error
}

// addrEncoder turns a logical byte address into the wire address field,
// rejecting addresses the destination space cannot represent.
type addrEncoder func(byteAddr uint64) (uint32, error)

func registerEncode(byteAddr uint64) (uint32, error) {
	if byteAddr > 0xFFFFFFFF {
		return 0, xerr.NewValidationError("registerEncode", "address 0x%X exceeds register space", byteAddr)
	}
	return uint32(byteAddr), nil
}

func waveRamEncode(byteAddr uint64) (uint32, error) {
	if byteAddr%memmap.WaveRamWordSize != 0 {
		return 0, xerr.NewValidationError("waveRamEncode", "address 0x%X is not %d-byte aligned", byteAddr, memmap.WaveRamWordSize)
	}
	word := byteAddr / memmap.WaveRamWordSize
	if word > 0xFFFFFFFF {
		return 0, xerr.NewValidationError("waveRamEncode", "address 0x%X exceeds wave-RAM space", byteAddr)
	}
	return uint32(word), nil
}

// wordAccessor is the shared implementation behind RegisterAccessor and
// ParamRegistryAccessor: 4-byte-word and single-bit read/write on top of a
// Transporter, differing only in how a logical address maps to the wire.
type wordAccessor struct {
	t       Transporter
	encode  addrEncoder
}

func (a *wordAccessor) ReadWord(ctx context.Context, addr uint64) (uint32, error) {
	wire, err := a.encode(addr)
	if err != nil {
		return 0, err
	}
	data, err := a.t.Read(ctx, wire, 4)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, xerr.NewTransportError(xerr.TransportMalformed, "ReadWord", "expected 4 bytes", nil)
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (a *wordAccessor) WriteWord(ctx context.Context, addr uint64, value uint32) error {
	wire, err := a.encode(addr)
	if err != nil {
		return err
	}
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, value)
	return a.t.Write(ctx, wire, data)
}

// MultiWriteWords writes consecutive 4-byte words starting at addr, one
// frame per word, preserving order so a later word's write is observable
// only once every earlier one has landed.
func (a *wordAccessor) MultiWriteWords(ctx context.Context, addr uint64, values []uint32) error {
	for i, v := range values {
		if err := a.WriteWord(ctx, addr+uint64(i)*4, v); err != nil {
			return err
		}
	}
	return nil
}

func (a *wordAccessor) ReadBit(ctx context.Context, addr uint64, bit uint8) (bool, error) {
	word, err := a.ReadWord(ctx, addr)
	if err != nil {
		return false, err
	}
	return word&(1<<bit) != 0, nil
}

// WriteBit performs a read-modify-write of the single bit at position bit.
func (a *wordAccessor) WriteBit(ctx context.Context, addr uint64, bit uint8, value bool) error {
	word, err := a.ReadWord(ctx, addr)
	if err != nil {
		return err
	}
	if value {
		word |= 1 << bit
	} else {
		word &^= 1 << bit
	}
	return a.WriteWord(ctx, addr, word)
}

// RegisterAccessor reads and writes the instrument's control/status
// registers, one 4-byte word or single bit at a time.
type RegisterAccessor struct {
	wordAccessor
}

// NewRegisterAccessor builds a RegisterAccessor on top of t.
func NewRegisterAccessor(t Transporter) *RegisterAccessor {
	return &RegisterAccessor{wordAccessor{t: t, encode: registerEncode}}
}

// ParamRegistryAccessor reads and writes registry-slot parameter blocks
// (wave-sequence or capture-parameter registries) one word or bit at a
// time, over the wave-RAM port.
type ParamRegistryAccessor struct {
	wordAccessor
}

// NewParamRegistryAccessor builds a ParamRegistryAccessor on top of t.
func NewParamRegistryAccessor(t Transporter) *ParamRegistryAccessor {
	return &ParamRegistryAccessor{wordAccessor{t: t, encode: waveRamEncode}}
}

// WaveRamAccessor reads and writes bulk sample/registry bytes in the
// wave-RAM address space, fragmenting transfers larger than one packet's
// payload into memmap.MaxPacketPayload-sized pieces. MaxPacketPayload is a
// multiple of memmap.WaveRamWordSize, so every fragment boundary stays
// word-aligned.
type WaveRamAccessor struct {
	t Transporter
}

// NewWaveRamAccessor builds a WaveRamAccessor on top of t.
func NewWaveRamAccessor(t Transporter) *WaveRamAccessor {
	return &WaveRamAccessor{t: t}
}

// Write stores data starting at byteAddr, which along with len(data) must
// be a multiple of memmap.WaveRamWordSize.
func (a *WaveRamAccessor) Write(ctx context.Context, byteAddr uint64, data []byte) error {
	if byteAddr%memmap.WaveRamWordSize != 0 {
		return xerr.NewValidationError("WaveRamAccessor.Write", "address 0x%X is not %d-byte aligned", byteAddr, memmap.WaveRamWordSize)
	}
	if len(data)%memmap.WaveRamWordSize != 0 {
		return xerr.NewValidationError("WaveRamAccessor.Write", "length %d is not a multiple of %d", len(data), memmap.WaveRamWordSize)
	}

	chunkSize := int(memmap.MaxPacketPayload)
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		wire, err := waveRamEncode(byteAddr + uint64(off))
		if err != nil {
			return err
		}
		if err := a.t.Write(ctx, wire, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// Read retrieves length bytes starting at byteAddr, which along with
// length must be a multiple of memmap.WaveRamWordSize.
func (a *WaveRamAccessor) Read(ctx context.Context, byteAddr uint64, length int) ([]byte, error) {
	if byteAddr%memmap.WaveRamWordSize != 0 {
		return nil, xerr.NewValidationError("WaveRamAccessor.Read", "address 0x%X is not %d-byte aligned", byteAddr, memmap.WaveRamWordSize)
	}
	if length%memmap.WaveRamWordSize != 0 {
		return nil, xerr.NewValidationError("WaveRamAccessor.Read", "length %d is not a multiple of %d", length, memmap.WaveRamWordSize)
	}

	out := make([]byte, 0, length)
	chunkSize := int(memmap.MaxPacketPayload)
	for off := 0; off < length; off += chunkSize {
		n := chunkSize
		if off+n > length {
			n = length - off
		}
		wire, err := waveRamEncode(byteAddr + uint64(off))
		if err != nil {
			return nil, err
		}
		data, err := a.t.Read(ctx, wire, uint16(n))
		if err != nil {
			return nil, err
		}
		if len(data) != n {
			return nil, xerr.NewTransportError(xerr.TransportMalformed, "WaveRamAccessor.Read", "short read", nil)
		}
		out = append(out, data...)
	}
	return out, nil
}
