package capture

import "github.com/lattice-rf/awgctrl/xerr"

// classificationBitsPerResult is the width of one classification result:
// the four-level decision the classification DSP unit emits per sample.
const classificationBitsPerResult = 2

const resultsPerByte = 8 / classificationBitsPerResult

// DecodeClassificationResults unpacks n two-bit classification results,
// little-endian and LSB-first within each byte, from the raw bytes a
// capture unit's output region holds.
func DecodeClassificationResults(data []byte, n int) ([]uint8, error) {
	needBytes := (n + resultsPerByte - 1) / resultsPerByte
	if len(data) < needBytes {
		return nil, xerr.NewValidationError("DecodeClassificationResults",
			"need %d bytes for %d results, got %d", needBytes, n, len(data))
	}

	out := make([]uint8, n)
	for i := 0; i < n; i++ {
		byteIdx := i / resultsPerByte
		bitOff := uint((i % resultsPerByte) * classificationBitsPerResult)
		out[i] = (data[byteIdx] >> bitOff) & 0x3
	}
	return out, nil
}

// EncodeClassificationResults is the inverse of DecodeClassificationResults.
func EncodeClassificationResults(results []uint8) []byte {
	numBytes := (len(results) + resultsPerByte - 1) / resultsPerByte
	out := make([]byte, numBytes)
	for i, r := range results {
		byteIdx := i / resultsPerByte
		bitOff := uint((i % resultsPerByte) * classificationBitsPerResult)
		out[byteIdx] |= (r & 0x3) << bitOff
	}
	return out
}
