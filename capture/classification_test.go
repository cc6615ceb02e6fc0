package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_EncodeDecodeClassificationResultsRoundTrip(t *testing.T) {
	results := []uint8{0, 1, 2, 3, 3, 2, 1, 0, 1}
	data := EncodeClassificationResults(results)

	got, err := DecodeClassificationResults(data, len(results))
	require.NoError(t, err)
	require.Equal(t, results, got)
}

func Test_DecodeClassificationResultsExactLength(t *testing.T) {
	data := []byte{0b11_10_01_00} // results 0,1,2,3 packed LSB-first
	got, err := DecodeClassificationResults(data, 4)
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 1, 2, 3}, got)
}

func Test_DecodeClassificationResultsRejectsShortBuffer(t *testing.T) {
	_, err := DecodeClassificationResults([]byte{0}, 5) // needs 2 bytes for 5 results
	require.Error(t, err)
}

func Test_DecodeClassificationResultsValuesInRange(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	got, err := DecodeClassificationResults(data, 16)
	require.NoError(t, err)
	require.Len(t, got, 16)
	for _, v := range got {
		require.LessOrEqual(t, v, uint8(3))
	}
}
