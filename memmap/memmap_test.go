package memmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_AwgWaveSrcAddrIsDistinctPerAwg(t *testing.T) {
	require.Equal(t, uint64(0), AwgWaveSrcAddr(0))
	require.NotEqual(t, AwgWaveSrcAddr(0), AwgWaveSrcAddr(1))
	require.Less(t, AwgWaveSrcAddr(0), AwgWaveSrcAddr(15))
}

func Test_CaptureAddrIsDistinctPerUnit(t *testing.T) {
	for j := uint8(0); j < 8; j++ {
		for k := uint8(0); k < 8; k++ {
			if j == k {
				continue
			}
			require.NotEqual(t, CaptureAddr(j), CaptureAddr(k))
		}
	}
}

func Test_WaveSeqRegistryAddrDistinctAcrossAwgAndKey(t *testing.T) {
	a := WaveSeqRegistryAddr(0, 0)
	b := WaveSeqRegistryAddr(0, 1)
	c := WaveSeqRegistryAddr(1, 0)
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEqual(t, b, c)
}

func Test_CeilToWaveRamWordRoundsUp(t *testing.T) {
	require.Equal(t, uint64(0), CeilToWaveRamWord(0))
	require.Equal(t, uint64(WaveRamWordSize), CeilToWaveRamWord(1))
	require.Equal(t, uint64(WaveRamWordSize), CeilToWaveRamWord(WaveRamWordSize))
	require.Equal(t, uint64(2*WaveRamWordSize), CeilToWaveRamWord(WaveRamWordSize+1))
}

func Test_MaxCaptureSamplesAndClassificationResultsDeriveFromCaptureSize(t *testing.T) {
	require.Equal(t, MaxCaptureSize/CapturedSampleSize, MaxCaptureSamples)
	require.Equal(t, MaxCaptureSize*8/ClassificationResultSize, MaxClassificationResults)
}

func Test_WaveParamChunkOffsetIncreasesWithIndex(t *testing.T) {
	require.Less(t, WaveParamChunkOffset(0), WaveParamChunkOffset(1))
}

func Test_CaptureParamPerSectionOffsetsDoNotOverlapFixedFields(t *testing.T) {
	sumLen0 := CaptureParamOffsetSumSectionLen(0)
	postBlank0 := CaptureParamOffsetPostBlankLen(0)
	require.NotEqual(t, sumLen0, postBlank0)
	require.Less(t, sumLen0, uint64(CaptureParamOffsetNumIntegSections))
	require.Less(t, postBlank0, uint64(CaptureParamOffsetNumIntegSections))
}
