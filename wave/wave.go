// Package wave models the data awg.Controller.SetWaveSequence and
// awg.Controller.RegisterWaveSequences send to an AWG: a sequence of chunks, each a
// run of (I,Q) samples followed by a blank period, repeated some number of
// times, with the whole sequence itself optionally repeated.
package wave

import (
	"encoding/binary"

	"github.com/lattice-rf/awgctrl/memmap"
	"github.com/lattice-rf/awgctrl/xerr"
)

// IQ16 is one in-phase/quadrature sample pair as the AWG's sample RAM
// stores it: two little-endian signed 16-bit values.
type IQ16 struct {
	I int16
	Q int16
}

// sampleBytes is the on-wire size of one IQ16 value.
const sampleBytes = 4

// SerializeSamples packs samples into their wave-RAM byte representation.
func SerializeSamples(samples []IQ16) []byte {
	out := make([]byte, len(samples)*sampleBytes)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*sampleBytes:], uint16(s.I))
		binary.LittleEndian.PutUint16(out[i*sampleBytes+2:], uint16(s.Q))
	}
	return out
}

// DeserializeSamples is the inverse of SerializeSamples.
func DeserializeSamples(data []byte) ([]IQ16, error) {
	if len(data)%sampleBytes != 0 {
		return nil, xerr.NewValidationError("DeserializeSamples", "length %d is not a multiple of %d", len(data), sampleBytes)
	}
	out := make([]IQ16, len(data)/sampleBytes)
	for i := range out {
		out[i].I = int16(binary.LittleEndian.Uint16(data[i*sampleBytes:]))
		out[i].Q = int16(binary.LittleEndian.Uint16(data[i*sampleBytes+2:]))
	}
	return out, nil
}

// Chunk is one run of samples, the blank period following it, and the
// number of times the (samples + blank) unit repeats before the sequence
// moves to its next chunk.
type Chunk struct {
	Samples       []IQ16
	NumBlankWords uint32
	NumRepeats    uint32
}

// NumSamples is the number of (I,Q) pairs in the chunk.
func (c Chunk) NumSamples() int {
	return len(c.Samples)
}

// NumWords is the number of AWG words the chunk's sample data occupies,
// blank words included.
func (c Chunk) NumWords() uint32 {
	return uint32(len(c.Samples)) / memmap.AwgWordSamples
}

// NumWavePartWords is the number of AWG words actually carrying waveform
// data: NumWords minus the trailing blank words.
func (c Chunk) NumWavePartWords() uint32 {
	return c.NumWords() - c.NumBlankWords
}

// DataSize is the number of wave-RAM bytes the sample data occupies,
// rounded up to memmap.WaveRamWordSize.
func (c Chunk) DataSize() uint64 {
	return memmap.CeilToWaveRamWord(uint64(len(c.Samples)) * sampleBytes)
}

// Validate checks the chunk's own invariants, independent of its position
// in a Sequence.
func (c Chunk) Validate() error {
	if len(c.Samples) == 0 {
		return xerr.NewValidationError("Chunk.Validate", "chunk has no samples")
	}
	if len(c.Samples)%memmap.WaveBlockSamples != 0 {
		return xerr.NewValidationError("Chunk.Validate", "sample count %d is not a multiple of %d", len(c.Samples), memmap.WaveBlockSamples)
	}
	if c.NumRepeats == 0 {
		return xerr.NewValidationError("Chunk.Validate", "num repeats must be at least 1")
	}
	if c.NumBlankWords > c.NumWords() {
		return xerr.NewValidationError("Chunk.Validate", "blank words %d exceed chunk's %d words", c.NumBlankWords, c.NumWords())
	}
	return nil
}

// Sequence is the complete waveform description passed to
// awg.Controller.SetWaveSequence / awg.Controller.RegisterWaveSequences.
type Sequence struct {
	// NumWaitWords is the number of AWG words to wait, after the AWG is
	// started, before the first chunk begins.
	NumWaitWords uint32
	// NumRepeats is the number of times the whole chunk list repeats.
	NumRepeats uint32
	Chunks     []Chunk
}

// DataSize is the total wave-RAM footprint of the sequence's sample data.
func (s Sequence) DataSize() uint64 {
	var total uint64
	for _, c := range s.Chunks {
		total += c.DataSize()
	}
	return total
}

// Validate checks every invariant a Sequence must hold before it can be
// sent to an AWG: at least one chunk, every chunk individually valid, a
// nonzero repeat count, and a total footprint within the instrument's
// per-AWG wave-RAM budget.
func (s Sequence) Validate() error {
	if len(s.Chunks) == 0 {
		return xerr.NewValidationError("Sequence.Validate", "sequence has no chunks")
	}
	if s.NumRepeats == 0 {
		return xerr.NewValidationError("Sequence.Validate", "num repeats must be at least 1")
	}
	for i, c := range s.Chunks {
		if err := c.Validate(); err != nil {
			return xerr.NewValidationError("Sequence.Validate", "chunk %d: %s", i, err)
		}
	}
	if size := s.DataSize(); size > memmap.MaxWaveSequenceBytes {
		return xerr.NewValidationError("Sequence.Validate", "total sample size %d exceeds max %d", size, memmap.MaxWaveSequenceBytes)
	}
	return nil
}

// NullSequence is the single-chunk, all-zero, minimum-length sequence an
// AWG is loaded with on Initialize, mirroring the idle waveform e7awgsw
// installs so a started-but-unconfigured AWG still produces a well-defined
// output.
func NullSequence() Sequence {
	return Sequence{
		NumRepeats: 1,
		Chunks: []Chunk{
			{
				Samples:    make([]IQ16, memmap.WaveBlockSamples),
				NumRepeats: 1,
			},
		},
	}
}
