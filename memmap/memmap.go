// Package memmap is the pure address/offset/bit-index arithmetic that
// names every register, per-engine base, and per-chunk/sub-region offset
// in the instrument. It has no I/O of its own; access and the controller
// packages call into it to compute the addresses they then read or write.
//
// Two address spaces exist, each reached over its own UDP port (see
// transport.Config): register space (small, densely packed 32-bit
// registers) and wave-RAM space (the bulk sample/registry RAM, addressed
// in 32-byte words). A value from one space is never valid in the other.
package memmap

import "github.com/c2h5oh/datasize"

// Sizing constants, reproduced exactly from the original instrument's
// memory map (see DESIGN.md).
const (
	// WaveRamWordSize is the granularity of the wave-RAM address space:
	// every address passed to WaveRamAccessor/ParamRegistryAccessor must
	// be a multiple of this, and every length is rounded up to it.
	WaveRamWordSize = 32

	// AwgWordSamples is the number of samples in one "AWG word".
	AwgWordSamples = 16

	// WaveBlockSamples is the number of samples in one "wave block";
	// WaveChunk.NumSamples must be a multiple of this.
	WaveBlockSamples = 64

	// AdcWordSamples is the number of samples in one "ADC word", the
	// granularity sum-section lengths are expressed in.
	AdcWordSamples = 4

	// MaxWaveSequenceBytes is the ceiling on the total 32-byte-rounded
	// sample-data size of a single SetWaveSequence/RegisterWaveSequences
	// call for one AWG.
	MaxWaveSequenceBytes = 256 * 1024 * 1024

	// MaxWaveRegistryEntries is the number of wave-sequence registry
	// slots available per AWG.
	MaxWaveRegistryEntries = 512

	// MaxCaptureParamRegistryEntries is the number of capture-parameter
	// registry slots available.
	MaxCaptureParamRegistryEntries = 512

	// MaxSumSections bounds the length of a CaptureParam's sum-section
	// list: the capture-parameter block's sum-section-length and
	// post-blank-length arrays each span 0x1000 bytes, i.e. 1024 words.
	MaxSumSections = 1024

	// MaxIntegVecElems is the maximum number of elements the integration
	// DSP unit can produce per capture run.
	MaxIntegVecElems = 4096

	// MaxCaptureSize is the maximum number of bytes a single capture
	// unit's output region can hold.
	MaxCaptureSize = 512 * 1024 * 1024

	// CapturedSampleSize is the on-wire size of one (I,Q) captured
	// sample pair: two little-endian IEEE-754 singles.
	CapturedSampleSize = 8

	// ClassificationResultSize is the size, in bits, of one
	// classification result.
	ClassificationResultSize = 2

	// MaxSumRangeLen is the sum-range length past which the sum DSP
	// unit may overflow; exceeding it is a warning, not a validation
	// failure (spec.md §4.7).
	MaxSumRangeLen = 0x100000

	// NumComplexFIRTaps is the number of taps the complex FIR DSP unit
	// applies.
	NumComplexFIRTaps = 8
	// NumRealFIRTaps is the number of taps each of the real FIR DSP
	// unit's I and Q filters applies.
	NumRealFIRTaps = 8
	// NumComplexWindowTaps is the number of taps the windowing DSP unit
	// applies.
	NumComplexWindowTaps = 1024
	// NumDecisionFuncs is the number of independent decision functions
	// the classification DSP unit evaluates per sample.
	NumDecisionFuncs = 2

	// MaxSumSectionLen bounds SUM_END_WORD_NO: the register is 32 bits
	// wide, so sum_start_word_no + num_words_to_sum - 1 is clamped to
	// this value before being written.
	MaxSumSectionLen = 0xFFFFFFFF

	// CaptureDataAlignment is the byte granularity captured I/Q data and
	// classification results are read back in (a RAM word).
	CaptureDataAlignment = WaveRamWordSize
)

// MaxCaptureSamples is the maximum number of (I,Q) pairs a single capture
// unit's output region can hold.
const MaxCaptureSamples = MaxCaptureSize / CapturedSampleSize

// MaxClassificationResults is the maximum number of classification
// results a single capture unit's output region can hold.
const MaxClassificationResults = MaxCaptureSize * 8 / ClassificationResultSize

// MaxPacketPayload is the conservative per-packet payload ceiling callers
// fragment bulk transfers to: 1500 Ethernet MTU - 20 IPv4 - 8 UDP.
const MaxPacketPayload = datasize.ByteSize(1472)

// Default UDP ports for the three logical endpoints. The register port and
// capture-register port are distinct sockets so the AWG and capture
// controllers never contend on the same transport.
const (
	DefaultAwgRegPort     = 16384
	DefaultWaveRamPort    = 16385
	DefaultCaptureRegPort = 16386
)

// CeilToWaveRamWord rounds n up to the next multiple of WaveRamWordSize.
func CeilToWaveRamWord(n uint64) uint64 {
	return ((n + WaveRamWordSize - 1) / WaveRamWordSize) * WaveRamWordSize
}

//////////////////////////////////////////////////////////////////////////
// Wave-RAM address space
//////////////////////////////////////////////////////////////////////////

// AwgWaveSrcAddr is the address of AWG k's waveform source region in the
// wave-RAM address space.
func AwgWaveSrcAddr(k uint8) uint64 {
	return uint64(k) * 0x20000000
}

// CaptureAddr is the address of capture unit j's output region in the
// wave-RAM address space.
func CaptureAddr(j uint8) uint64 {
	return 0x10000000 + uint64(j)*0x20000000
}

const (
	waveRegistryAddr    = 0x1F2000000
	awgRegistrySize     = 0x80000
	waveSeqRegistrySize = 0x400

	capParamRegistryAddr = 0x1F0000000
	capParamRegistrySize = 0x10000
)

// WaveSeqRegistryAddr is the address of wave-sequence registry slot key
// within AWG k's registry region.
func WaveSeqRegistryAddr(k uint8, key uint16) uint64 {
	return waveRegistryAddr + awgRegistrySize*uint64(k) + waveSeqRegistrySize*uint64(key)
}

// CapParamRegistryAddr is the address of capture-parameter registry slot
// key.
func CapParamRegistryAddr(key uint16) uint64 {
	return capParamRegistryAddr + capParamRegistrySize*uint64(key)
}

//////////////////////////////////////////////////////////////////////////
// AWG master-control register (register space, shared across all AWGs)
//////////////////////////////////////////////////////////////////////////

// AwgMasterCtrlAddr is the base address of the AWG master-control
// register block.
const AwgMasterCtrlAddr = 0x00000000

// AwgMasterCtrlOffset names the registers in the AWG master-control block.
const (
	AwgMasterCtrlOffsetCtrl          = 0x0
	AwgMasterCtrlOffsetCtrlTargetSel = 0x4
	AwgMasterCtrlOffsetVersion       = 0x8
)

// Bit indices within AwgMasterCtrlOffsetCtrl.
const (
	AwgMasterCtrlBitPrepare = 0
	AwgMasterCtrlBitStart   = 1
	AwgMasterCtrlBitReset   = 2
	AwgMasterCtrlBitDoneClr = 3
)

// AwgMasterCtrlBitAwg is the bit index of AWG k within
// AwgMasterCtrlOffsetCtrlTargetSel.
func AwgMasterCtrlBitAwg(k uint8) uint8 {
	return k
}

//////////////////////////////////////////////////////////////////////////
// Per-AWG control/status/error registers
//////////////////////////////////////////////////////////////////////////

const (
	awgCtrlBase   = 0x00001000
	awgCtrlStride = 0x100
)

// AwgCtrlAddr is the base address of AWG k's control/status/error block.
func AwgCtrlAddr(k uint8) uint64 {
	return awgCtrlBase + uint64(k)*awgCtrlStride
}

const (
	AwgCtrlOffsetCtrl   = 0x0
	AwgCtrlOffsetStatus = 0x4
	AwgCtrlOffsetErr    = 0x8
)

const (
	AwgCtrlBitTerminate = 0

	AwgStatusBitReady = 0
	AwgStatusBitBusy  = 1
	AwgStatusBitDone  = 2

	AwgErrBitRead           = 0
	AwgErrBitSampleShortage = 1
)

//////////////////////////////////////////////////////////////////////////
// Per-AWG wave-parameter registers (live wave sequence)
//////////////////////////////////////////////////////////////////////////

const (
	waveParamBase       = 0x00010000
	waveParamStride     = 0x1000
	waveParamChunkBase  = 0x10
	waveParamChunkSize  = 0x10
)

// WaveParamAddr is the base address of AWG k's wave-parameter block.
func WaveParamAddr(k uint8) uint64 {
	return waveParamBase + uint64(k)*waveParamStride
}

const (
	WaveParamOffsetNumWaitWords                = 0x0
	WaveParamOffsetNumRepeats                  = 0x4
	WaveParamOffsetNumChunks                   = 0x8
	WaveParamOffsetWaveStartableBlockInterval  = 0xC
)

// WaveParamChunkOffset is the base offset of chunk idx's parameter block
// within a wave-parameter block.
func WaveParamChunkOffset(idx int) uint64 {
	return waveParamChunkBase + uint64(idx)*waveParamChunkSize
}

// Offsets within a chunk's parameter block, relative to WaveParamChunkOffset.
const (
	WaveParamChunkOffsetStartAddr      = 0x0
	WaveParamChunkOffsetWavePartWords  = 0x4
	WaveParamChunkOffsetBlankWords     = 0x8
	WaveParamChunkOffsetChunkRepeats   = 0xC
)

//////////////////////////////////////////////////////////////////////////
// Capture master-control register (register space, shared across units)
//////////////////////////////////////////////////////////////////////////

const CaptureMasterCtrlAddr = 0x00030000

const (
	CaptureMasterCtrlOffsetCtrl          = 0x0
	CaptureMasterCtrlOffsetCtrlTargetSel = 0x4
	CaptureMasterCtrlOffsetTrigAwgSel0   = 0x8
	CaptureMasterCtrlOffsetTrigAwgSel1   = 0xC
	CaptureMasterCtrlOffsetAwgTrigMask   = 0x10
	CaptureMasterCtrlOffsetVersion       = 0x14
)

const (
	CaptureMasterCtrlBitStart   = 0
	CaptureMasterCtrlBitReset   = 1
	CaptureMasterCtrlBitDoneClr = 2
)

// CaptureMasterCtrlBitUnit is the bit index of capture unit j within the
// target-select and AWG-trigger-mask registers.
func CaptureMasterCtrlBitUnit(j uint8) uint8 {
	return j
}

//////////////////////////////////////////////////////////////////////////
// Per-capture-unit control/status/error registers
//////////////////////////////////////////////////////////////////////////

const (
	captureCtrlBase   = 0x00031000
	captureCtrlStride = 0x100
)

// CaptureCtrlAddr is the base address of capture unit j's
// control/status/error block.
func CaptureCtrlAddr(j uint8) uint64 {
	return captureCtrlBase + uint64(j)*captureCtrlStride
}

const (
	CaptureCtrlOffsetCtrl   = 0x0
	CaptureCtrlOffsetStatus = 0x4
	CaptureCtrlOffsetErr    = 0x8
)

const (
	CaptureStatusBitDone = 0

	CaptureErrBitOverflow = 0
	CaptureErrBitWrite    = 1
)

//////////////////////////////////////////////////////////////////////////
// Per-capture-unit parameter registers (live capture parameters)
//////////////////////////////////////////////////////////////////////////

const (
	captureParamBase   = 0x00040000
	captureParamStride = 0x8000
)

// CaptureParamAddr is the base address of capture unit j's live
// parameter block.
func CaptureParamAddr(j uint8) uint64 {
	return captureParamBase + uint64(j)*captureParamStride
}

const (
	CaptureParamOffsetNumSumSections = 0x0000
	captureParamSumSecLenBase        = 0x0010
	captureParamPostBlankLenBase     = 0x1010
	CaptureParamOffsetNumIntegSections = 0x2010
	CaptureParamOffsetDspModuleEnable  = 0x2014
	CaptureParamOffsetCaptureDelay     = 0x2018
	CaptureParamOffsetCaptureAddr      = 0x201C
	captureParamCompFirReBase          = 0x2020
	captureParamCompFirImBase          = 0x2040
	captureParamRealFirIBase           = 0x2060
	captureParamRealFirQBase           = 0x2080
	captureParamCompWindowReBase       = 0x20A0
	captureParamCompWindowImBase       = 0x30A0
	CaptureParamOffsetSumStartTime     = 0x40A0
	CaptureParamOffsetSumEndTime       = 0x40A4
	captureParamDecisionFuncBase       = 0x40A8
	CaptureParamOffsetNumCapturedSamples = 0x40C0
)

// CaptureParamOffsetSumSectionLen is the offset of sum section i's length.
func CaptureParamOffsetSumSectionLen(i int) uint64 {
	return captureParamSumSecLenBase + uint64(i)*4
}

// CaptureParamOffsetPostBlankLen is the offset of sum section i's
// post-blank length.
func CaptureParamOffsetPostBlankLen(i int) uint64 {
	return captureParamPostBlankLenBase + uint64(i)*4
}

// CaptureParamOffsetCompFirRe/Im are the offsets of complex FIR tap i's
// real/imaginary coefficient.
func CaptureParamOffsetCompFirRe(i int) uint64 { return captureParamCompFirReBase + uint64(i)*4 }
func CaptureParamOffsetCompFirIm(i int) uint64 { return captureParamCompFirImBase + uint64(i)*4 }

// CaptureParamOffsetRealFirI/Q are the offsets of real FIR tap i's I/Q
// coefficient.
func CaptureParamOffsetRealFirI(i int) uint64 { return captureParamRealFirIBase + uint64(i)*4 }
func CaptureParamOffsetRealFirQ(i int) uint64 { return captureParamRealFirQBase + uint64(i)*4 }

// CaptureParamOffsetCompWindowRe/Im are the offsets of window tap i's
// real/imaginary coefficient.
func CaptureParamOffsetCompWindowRe(i int) uint64 { return captureParamCompWindowReBase + uint64(i)*4 }
func CaptureParamOffsetCompWindowIm(i int) uint64 { return captureParamCompWindowImBase + uint64(i)*4 }

// CaptureParamOffsetDecisionFunc is the offset of decision-function
// parameter i (0..5: unit 0's A,B,C then unit 1's A,B,C).
func CaptureParamOffsetDecisionFunc(i int) uint64 {
	return captureParamDecisionFuncBase + uint64(i)*4
}
