package wave

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_SerializeDeserializeRoundTrip(t *testing.T) {
	samples := []IQ16{{I: 1, Q: 2}, {I: -1, Q: -2}, {I: 32767, Q: -32768}}
	data := SerializeSamples(samples)
	require.Equal(t, len(samples)*sampleBytes, len(data))

	got, err := DeserializeSamples(data)
	require.NoError(t, err)
	require.Equal(t, samples, got)
}

func Test_DeserializeSamplesRejectsPartialFrame(t *testing.T) {
	_, err := DeserializeSamples([]byte{1, 2, 3})
	require.Error(t, err)
}

func Test_ChunkNumWavePartWords(t *testing.T) {
	c := Chunk{
		Samples:       make([]IQ16, 64), // 4 AWG words
		NumBlankWords: 1,
		NumRepeats:    1,
	}
	require.Equal(t, uint32(4), c.NumWords())
	require.Equal(t, uint32(3), c.NumWavePartWords())
}

func Test_ChunkValidateRejectsBlankWordsExceedingWords(t *testing.T) {
	c := Chunk{
		Samples:       make([]IQ16, 64),
		NumBlankWords: 5, // only 4 AWG words exist
		NumRepeats:    1,
	}
	require.Error(t, c.Validate())
}

func Test_ChunkValidateRejectsNonMultipleOf64Samples(t *testing.T) {
	c := Chunk{Samples: make([]IQ16, 63), NumRepeats: 1}
	require.Error(t, c.Validate())
}

func Test_ChunkValidateRejectsZeroRepeats(t *testing.T) {
	c := Chunk{Samples: make([]IQ16, 64), NumRepeats: 0}
	require.Error(t, c.Validate())
}

func Test_SequenceValidateRequiresAtLeastOneChunk(t *testing.T) {
	s := Sequence{NumRepeats: 1}
	require.Error(t, s.Validate())
}

func Test_SequenceValidateRejectsOversizedData(t *testing.T) {
	// One chunk whose rounded size alone exceeds the 256 MiB ceiling.
	s := Sequence{
		NumRepeats: 1,
		Chunks: []Chunk{
			{Samples: make([]IQ16, 64*1024*1024+64), NumRepeats: 1},
		},
	}
	err := s.Validate()
	require.Error(t, err)
}

func Test_SequenceDataSizeSumsRoundedChunkSizes(t *testing.T) {
	s := Sequence{
		NumRepeats: 1,
		Chunks: []Chunk{
			{Samples: make([]IQ16, 64), NumRepeats: 1}, // 64*4=256 bytes, already 32-aligned
			{Samples: make([]IQ16, 128), NumRepeats: 1},
		},
	}
	require.Equal(t, uint64(256+512), s.DataSize())
}

func Test_NullSequenceIsValid(t *testing.T) {
	seq := NullSequence()
	require.NoError(t, seq.Validate())
	require.Len(t, seq.Chunks, 1)
	require.Equal(t, 64, seq.Chunks[0].NumSamples())
}
