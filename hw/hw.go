// Package hw holds the identifiers and error enumerations shared by the
// awg and capture control packages: AWG and capture-unit IDs, the DSP
// units a capture unit can enable, and the hardware-error codes surfaced
// via CheckErr.
package hw

import "fmt"

// NumAwgs is the number of arbitrary waveform generators the instrument
// exposes.
const NumAwgs = 16

// NumCaptureUnits is the number of capture units the instrument exposes.
const NumCaptureUnits = 8

// NumCaptureModules is the number of capture modules; each owns a fixed
// group of four capture units.
const NumCaptureModules = 2

// AwgID identifies one of the sixteen AWGs (0..15).
type AwgID uint8

// IsValid reports whether id is an addressable AWG.
func (id AwgID) IsValid() bool {
	return uint8(id) < NumAwgs
}

func (id AwgID) String() string {
	return fmt.Sprintf("AWG%d", uint8(id))
}

// CaptureUnitID identifies one of the eight capture units (0..7).
type CaptureUnitID uint8

// IsValid reports whether id is an addressable capture unit.
func (id CaptureUnitID) IsValid() bool {
	return uint8(id) < NumCaptureUnits
}

func (id CaptureUnitID) String() string {
	return fmt.Sprintf("CaptureUnit%d", uint8(id))
}

// Module returns the capture module that owns this unit.
func (id CaptureUnitID) Module() CaptureModuleID {
	return CaptureModuleID(uint8(id) / 4)
}

// CaptureModuleID identifies one of the two capture modules (0..1).
type CaptureModuleID uint8

// IsValid reports whether id is an addressable capture module.
func (id CaptureModuleID) IsValid() bool {
	return uint8(id) < NumCaptureModules
}

func (id CaptureModuleID) String() string {
	return fmt.Sprintf("CaptureModule%d", uint8(id))
}

// CaptureUnitsOf returns the capture unit IDs owned by mod, in ascending
// order. Module 0 owns {0,1,2,3}; module 1 owns {4,5,6,7}.
func CaptureUnitsOf(mod CaptureModuleID) []CaptureUnitID {
	base := uint8(mod) * 4
	units := make([]CaptureUnitID, 4)
	for i := range units {
		units[i] = CaptureUnitID(base + uint8(i))
	}
	return units
}

// DspUnit is one stage of a capture unit's DSP pipeline. Its integer value
// is also the bit position it occupies in the DSP-enable register.
type DspUnit uint8

const (
	DspCFIR DspUnit = iota
	DspRFIR
	DspWindow
	DspSum
	DspIntegration
	DspClassification
)

func (u DspUnit) String() string {
	switch u {
	case DspCFIR:
		return "CFIR"
	case DspRFIR:
		return "RFIR"
	case DspWindow:
		return "WINDOW"
	case DspSum:
		return "SUM"
	case DspIntegration:
		return "INTEGRATION"
	case DspClassification:
		return "CLASSIFICATION"
	default:
		return fmt.Sprintf("DspUnit(%d)", uint8(u))
	}
}

// AwgErr is a hardware error condition surfaced by AwgController.CheckErr.
type AwgErr uint8

const (
	AwgErrMemRead AwgErr = iota
	AwgErrSampleShortage
)

func (e AwgErr) String() string {
	switch e {
	case AwgErrMemRead:
		return "MEM_RD"
	case AwgErrSampleShortage:
		return "SAMPLE_SHORTAGE"
	default:
		return fmt.Sprintf("AwgErr(%d)", uint8(e))
	}
}

// CaptureErr is a hardware error condition surfaced by
// CaptureController.CheckErr.
type CaptureErr uint8

const (
	CaptureErrOverflow CaptureErr = iota
	CaptureErrMemWrite
)

func (e CaptureErr) String() string {
	switch e {
	case CaptureErrOverflow:
		return "OVERFLOW"
	case CaptureErrMemWrite:
		return "MEM_WR"
	default:
		return fmt.Sprintf("CaptureErr(%d)", uint8(e))
	}
}
