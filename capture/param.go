// Package capture models a capture unit's DSP pipeline configuration
// (Param), the classification results it can produce, and the controller
// that drives capture units over the wire.
//
// The pipeline is a fixed chain of optional stages, each gated by a bit in
// DSPUnitsEnabled: complex FIR, real FIR, windowing, summation over
// sections of the input, integration across sections, and four-level
// classification of the integrated result.
package capture

import (
	"github.com/lattice-rf/awgctrl/hw"
	"github.com/lattice-rf/awgctrl/memmap"
	"github.com/lattice-rf/awgctrl/xerr"
)

// SumSection is one contiguous span of input words the sum DSP unit
// reduces to a single value, followed by a blank span excluded from the
// next section's input.
type SumSection struct {
	NumWordsToSum     uint32
	NumPostBlankWords uint32
}

// DecisionFunc is one linear decision boundary (A*I + B*Q + C) the
// classification DSP unit evaluates against the integrated (I,Q) result.
type DecisionFunc struct {
	A, B, C float32
}

// Param is a capture unit's complete DSP pipeline configuration, as passed
// to Controller.SetCaptureParams / Controller.RegisterCaptureParams.
type Param struct {
	// DSPUnitsEnabled is the set of pipeline stages this capture run
	// applies, in a fixed processing order regardless of set order.
	DSPUnitsEnabled []hw.DspUnit

	// CaptureDelay is the number of ADC words to discard before the
	// pipeline begins processing.
	CaptureDelay uint32

	// SumSections partitions the capture window for the sum/integration
	// stages.
	SumSections []SumSection
	// NumIntegSections is the number of consecutive SumSections the
	// integration DSP unit accumulates into one output element.
	NumIntegSections uint32

	// ComplexFIRCoefs are the complex FIR stage's taps, as (real,
	// imaginary) pairs.
	ComplexFIRCoefs [memmap.NumComplexFIRTaps]complex64
	// RealFIRICoefs/RealFIRQCoefs are the real FIR stage's independent
	// per-channel taps.
	RealFIRICoefs [memmap.NumRealFIRTaps]int32
	RealFIRQCoefs [memmap.NumRealFIRTaps]int32
	// ComplexWindowCoefs are the windowing stage's taps.
	ComplexWindowCoefs [memmap.NumComplexWindowTaps]complex64

	// SumStartWordNo and NumWordsToSum bound which ADC words the sum
	// unit's running total covers within each section.
	SumStartWordNo uint32
	NumWordsToSum  uint32

	// DecisionFuncParams holds the classification unit's two decision
	// functions.
	DecisionFuncParams [memmap.NumDecisionFuncs]DecisionFunc
}

// Enabled reports whether u is one of this Param's active DSP stages.
func (p Param) Enabled(u hw.DspUnit) bool {
	for _, e := range p.DSPUnitsEnabled {
		if e == u {
			return true
		}
	}
	return false
}

// EnableMask packs DSPUnitsEnabled into the bitmask the DSP_MODULE_ENABLE
// register expects: bit i set means hw.DspUnit(i) is active.
func (p Param) EnableMask() uint32 {
	var mask uint32
	for _, u := range p.DSPUnitsEnabled {
		mask |= 1 << uint8(u)
	}
	return mask
}

// CalcCaptureSamples is the number of raw ADC samples the configured sum
// sections (including their post-blank spans) span. Downstream checks
// reinterpret this count as sum results, integration vector elements, or
// classification results depending on which DSP units are enabled.
func (p Param) CalcCaptureSamples() uint64 {
	var words uint64
	for _, s := range p.SumSections {
		words += uint64(s.NumWordsToSum) + uint64(s.NumPostBlankWords)
	}
	return words * memmap.AdcWordSamples
}

// Validate checks every size invariant the hardware imposes on a Param
// before it is written to a capture unit or the parameter registry.
// Warnings (possible sum overflow) are returned as a separate slice rather
// than an error, since the hardware accepts the parameters and merely
// risks saturating the sum.
func (p Param) Validate() ([]string, error) {
	if len(p.SumSections) > memmap.MaxSumSections {
		return nil, xerr.NewValidationError("Param.Validate",
			"too many sum sections (max %d, got %d)", memmap.MaxSumSections, len(p.SumSections))
	}

	numCapSamples := p.CalcCaptureSamples()

	if p.Enabled(hw.DspIntegration) {
		vecElems := numCapSamples
		if !p.Enabled(hw.DspSum) {
			vecElems /= memmap.AdcWordSamples
		}
		if vecElems > memmap.MaxIntegVecElems {
			return nil, xerr.NewValidationError("Param.Validate",
				"too many integration vector elements (max %d, got %d)", memmap.MaxIntegVecElems, vecElems)
		}
	}

	if p.Enabled(hw.DspClassification) {
		if numCapSamples > memmap.MaxClassificationResults {
			return nil, xerr.NewValidationError("Param.Validate",
				"too many classification results (max %d, got %d)", memmap.MaxClassificationResults, numCapSamples)
		}
	}

	if !p.Enabled(hw.DspIntegration) && !p.Enabled(hw.DspClassification) {
		if numCapSamples > memmap.MaxCaptureSamples {
			return nil, xerr.NewValidationError("Param.Validate",
				"too many capture samples (max %d, got %d)", memmap.MaxCaptureSamples, numCapSamples)
		}
	}

	var warnings []string
	if p.Enabled(hw.DspSum) {
		limit := uint64(memmap.MaxSumRangeLen) * memmap.AdcWordSamples
		for i, s := range p.SumSections {
			if uint64(s.NumWordsToSum) > limit {
				warnings = append(warnings, xerr.NewValidationError("Param.Validate",
					"sum section %d sums %d words, over %d; the sum may overflow", i, s.NumWordsToSum, limit).Error())
			}
		}
	}

	return warnings, nil
}
