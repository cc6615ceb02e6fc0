package awg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-rf/awgctrl/hw"
	"github.com/lattice-rf/awgctrl/internal/faketransport"
	"github.com/lattice-rf/awgctrl/memmap"
	"github.com/lattice-rf/awgctrl/wave"
)

// newTestController builds a Controller wired to two independent in-memory
// fakes (register space and wave-RAM space), on a unique lock IP so
// parallel tests never contend on the same advisory lock file.
func newTestController(t *testing.T, ip string) (*Controller, *faketransport.Fake, *faketransport.Fake) {
	t.Helper()
	regFake := faketransport.New()
	ramFake := faketransport.New()
	c, err := NewController(regFake, ramFake, ip)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, regFake, ramFake
}

func oneChunkSequence(i, q int16, numSamples int, waitWords, repeats, blankWords, chunkRepeats uint32) wave.Sequence {
	samples := make([]wave.IQ16, numSamples)
	for k := range samples {
		samples[k] = wave.IQ16{I: i, Q: q}
	}
	return wave.Sequence{
		NumWaitWords: waitWords,
		NumRepeats:   repeats,
		Chunks: []wave.Chunk{
			{Samples: samples, NumBlankWords: blankWords, NumRepeats: chunkRepeats},
		},
	}
}

func Test_SetWaveSequenceWritesParamsAndSamples(t *testing.T) {
	c, regFake, ramFake := newTestController(t, "10.0.0.10")
	ctx := context.Background()

	seq := oneChunkSequence(1, 2, 64, 16, 1, 0, 1)
	require.NoError(t, c.SetWaveSequence(ctx, 0, seq))

	paramAddr := memmap.WaveParamAddr(0)
	require.Equal(t, seq.NumWaitWords, regFake.WordAt(uint32(paramAddr+memmap.WaveParamOffsetNumWaitWords)))
	require.Equal(t, seq.NumRepeats, regFake.WordAt(uint32(paramAddr+memmap.WaveParamOffsetNumRepeats)))
	require.Equal(t, uint32(1), regFake.WordAt(uint32(paramAddr+memmap.WaveParamOffsetNumChunks)))

	chunkOff := memmap.WaveParamChunkOffset(0)
	wantStartAddr := uint32(memmap.AwgWaveSrcAddr(0) >> 4)
	require.Equal(t, wantStartAddr, regFake.WordAt(uint32(paramAddr+chunkOff+memmap.WaveParamChunkOffsetStartAddr)))
	require.Equal(t, seq.Chunks[0].NumWavePartWords(), regFake.WordAt(uint32(paramAddr+chunkOff+memmap.WaveParamChunkOffsetWavePartWords)))
	require.Equal(t, seq.Chunks[0].NumBlankWords, regFake.WordAt(uint32(paramAddr+chunkOff+memmap.WaveParamChunkOffsetBlankWords)))
	require.Equal(t, seq.Chunks[0].NumRepeats, regFake.WordAt(uint32(paramAddr+chunkOff+memmap.WaveParamChunkOffsetChunkRepeats)))

	wantData := wave.SerializeSamples(seq.Chunks[0].Samples)
	gotData, err := readRawRAM(ramFake, memmap.AwgWaveSrcAddr(0), len(wantData))
	require.NoError(t, err)
	require.Equal(t, wantData, gotData)
}

// readRawRAM reads raw bytes directly from a faketransport.Fake standing in
// for the wave-RAM port, bypassing access.WaveRamAccessor's word-index wire
// encoding (tests read back what the accessor itself wrote at the byte
// address, which the accessor maps to addr/32 on the wire).
func readRawRAM(fake *faketransport.Fake, byteAddr uint64, n int) ([]byte, error) {
	wireAddr := uint32(byteAddr / memmap.WaveRamWordSize)
	return fake.Read(context.Background(), wireAddr, uint16(n))
}

func Test_SetWaveSequenceRejectsOversizedSequence(t *testing.T) {
	c, _, _ := newTestController(t, "10.0.0.11")
	ctx := context.Background()

	seq := wave.Sequence{
		NumRepeats: 1,
		Chunks: []wave.Chunk{
			{Samples: make([]wave.IQ16, 64*1024*1024+64), NumRepeats: 1},
		},
	}
	err := c.SetWaveSequence(ctx, 0, seq)
	require.Error(t, err)
}

func Test_SetWaveSequenceRejectsInvalidAwgID(t *testing.T) {
	c, _, _ := newTestController(t, "10.0.0.12")
	seq := oneChunkSequence(0, 0, 64, 0, 1, 0, 1)
	err := c.SetWaveSequence(context.Background(), 16, seq)
	require.Error(t, err)
}

func Test_RegisterWaveSequencesInlineAndRegistrySlots(t *testing.T) {
	c, regFake, ramFake := newTestController(t, "10.0.0.13")
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

	// seqC landed on AWG 0's live wave-parameter block.
	liveAddr := memmap.WaveParamAddr(0)
	require.Equal(t, uint32(1), regFake.WordAt(uint32(liveAddr+memmap.WaveParamOffsetNumChunks)))

	// seqA and seqB landed at the expected registry addresses.
	regAAddr := memmap.WaveSeqRegistryAddr(0, 0)
	regBAddr := memmap.WaveSeqRegistryAddr(0, 1)
	require.Equal(t, seqA.NumRepeats, regFake.WordAt(uint32(regAAddr+memmap.WaveParamOffsetNumRepeats)))
	require.Equal(t, seqB.NumRepeats, regFake.WordAt(uint32(regBAddr+memmap.WaveParamOffsetNumRepeats)))

	_ = ramFake // sample placement already exercised by Test_SetWaveSequenceWritesParamsAndSamples
}

func Test_RegisterWaveSequencesRejectsOutOfRangeKey(t *testing.T) {
	c, _, _ := newTestController(t, "10.0.0.14")
	seq := oneChunkSequence(0, 0, 64, 0, 1, 0, 1)
	entries := []WaveRegistryEntry{{Key: RegistryKey(memmap.MaxWaveRegistryEntries), Sequence: seq}}
	err := c.RegisterWaveSequences(context.Background(), 0, entries)
	require.Error(t, err)
}

// fakeStartSequencer arranges a faketransport.Fake so that writing CTRL_PREPARE=1
// immediately reports STATUS_READY=1 for awgID, mimicking hardware's
// prepare-then-ready handshake, and writing CTRL_START pulses marks
// STATUS_DONE=1 once the pulse completes (waveform "instantly" finishes).
func fakeStartSequencer(fake *faketransport.Fake, awgID hw.AwgID) {
	statusAddr := uint32(memmap.AwgCtrlAddr(uint8(awgID)) + memmap.AwgCtrlOffsetStatus)
	ctrlAddr := uint32(memmap.AwgMasterCtrlAddr + memmap.AwgMasterCtrlOffsetCtrl)
	fake.OnWrite = func(f *faketransport.Fake, addr uint32, data []byte) {
		if addr != ctrlAddr {
			return
		}
		word := f.WordAt(addr)
		prepare := word&(1<<memmap.AwgMasterCtrlBitPrepare) != 0
		start := word&(1<<memmap.AwgMasterCtrlBitStart) != 0
		if prepare {
			f.SetBitAt(statusAddr, memmap.AwgStatusBitReady, true)
		}
		if start {
			f.SetBitAt(statusAddr, memmap.AwgStatusBitDone, true)
		}
	}
}

func Test_StartAwgsObservesReadyThenPulsesStart(t *testing.T) {
	c, regFake, _ := newTestController(t, "10.0.0.15")
	ctx := context.Background()
	fakeStartSequencer(regFake, 0)

	require.NoError(t, c.Initialize(ctx, 0))
	regFake.SetBitAt(uint32(memmap.AwgCtrlAddr(0)+memmap.AwgCtrlOffsetStatus), memmap.AwgStatusBitReady, false)
	regFake.SetBitAt(uint32(memmap.AwgCtrlAddr(0)+memmap.AwgCtrlOffsetStatus), memmap.AwgStatusBitDone, false)

	require.NoError(t, c.StartAwgs(ctx, 0))
	require.NoError(t, c.WaitForAwgsToStop(ctx, 5*time.Second, 0))

	errs, err := c.CheckErr(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, errs)
}

func Test_WaitForAwgsToStopTimesOut(t *testing.T) {
	c, _, _ := newTestController(t, "10.0.0.16")
	err := c.WaitForAwgsToStop(context.Background(), 20*time.Millisecond, 0)
	require.Error(t, err)
}

func Test_CheckErrReportsLatchedBits(t *testing.T) {
	c, regFake, _ := newTestController(t, "10.0.0.17")
	ctx := context.Background()

	errAddr := uint32(memmap.AwgCtrlAddr(2) + memmap.AwgCtrlOffsetErr)
	regFake.SetBitAt(errAddr, memmap.AwgErrBitSampleShortage, true)

	errs, err := c.CheckErr(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []hw.AwgErr{hw.AwgErrSampleShortage}, errs[2])
}

func Test_VersionDecodesRegister(t *testing.T) {
	c, regFake, _ := newTestController(t, "10.0.0.18")
	// char='A'(0x41), year=24, month=7, day=31, id=5
	word := uint32('A')<<24 | uint32(24)<<16 | uint32(7)<<12 | uint32(31)<<4 | uint32(5)
	regFake.SetWordAt(uint32(memmap.AwgMasterCtrlAddr+memmap.AwgMasterCtrlOffsetVersion), word)

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A:2024/07/31-5", v)
}

func Test_DedupAwgIDsPreservesFirstOccurrenceOrder(t *testing.T) {
	got := dedupAwgIDs([]hw.AwgID{3, 1, 3, 2, 1})
	require.Equal(t, []hw.AwgID{3, 1, 2}, got)
}
