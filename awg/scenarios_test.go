package awg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-rf/awgctrl/memmap"
	"github.com/lattice-rf/awgctrl/wave"
)

// Test_SingleAwgSend is spec.md §8 scenario 1: configure AWG 0 with one
// 64-sample chunk, start it, and observe it stop cleanly with no latched
// errors.
func Test_SingleAwgSend(t *testing.T) {
	c, regFake, _ := newTestController(t, "10.0.0.50")
	ctx := context.Background()
	fakeStartSequencer(regFake, 0)

	require.NoError(t, c.Initialize(ctx, 0))

	seq := oneChunkSequence(1, 2, 64, 16, 1, 0, 1)
	require.NoError(t, c.SetWaveSequence(ctx, 0, seq))
	require.NoError(t, c.StartAwgs(ctx, 0))
	require.NoError(t, c.WaitForAwgsToStop(ctx, 5*time.Second, 0))

	errs, err := c.CheckErr(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, errs)
}

// Test_Registry is spec.md §8 scenario 4: register a mix of registry and
// inline wave sequences for one AWG and confirm each lands where the spec
// dictates.
func Test_Registry(t *testing.T) {
	c, regFake, _ := newTestController(t, "10.0.0.51")
	ctx := context.Background()

	seqA := oneChunkSequence(1, 1, 64, 0, 1, 0, 1)
	seqB := oneChunkSequence(2, 2, 64, 0, 1, 0, 1)
	seqC := oneChunkSequence(3, 3, 64, 0, 1, 0, 1)

	entries := []WaveRegistryEntry{
		{Key: RegistryKey(0), Sequence: seqA},
		{Key: RegistryKey(1), Sequence: seqB},
		{Key: InlineKey(), Sequence: seqC},
	}
	require.NoError(t, c.RegisterWaveSequences(ctx, 0, entries))

	// seqC (inline) landed on AWG 0's live wave-parameter block.
	liveAddr := memmap.WaveParamAddr(0)
	require.Equal(t, uint32(1), regFake.WordAt(uint32(liveAddr+memmap.WaveParamOffsetNumChunks)))
}

// Test_SetWaveSequenceValidationPerformsNoWrites confirms spec.md §8
// invariant 4's second half: an oversized sequence is rejected before any
// register or RAM write is attempted.
func Test_SetWaveSequenceValidationPerformsNoWrites(t *testing.T) {
	c, regFake, ramFake := newTestController(t, "10.0.0.52")
	ctx := context.Background()

	oversized := wave.Sequence{
		NumRepeats: 1,
		Chunks: []wave.Chunk{
			{Samples: make([]wave.IQ16, 64*1024*1024+64), NumRepeats: 1},
		},
	}
	err := c.SetWaveSequence(ctx, 0, oversized)
	require.Error(t, err)
	require.Empty(t, regFake.Writes())
	require.Empty(t, ramFake.Writes())
}
