// Package capture's Controller drives the eight capture units: programming
// their DSP pipeline, wiring AWG trigger sources, starting/stopping them,
// and reading back captured I/Q samples or classification results.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/lattice-rf/awgctrl/access"
	"github.com/lattice-rf/awgctrl/hw"
	"github.com/lattice-rf/awgctrl/iplock"
	"github.com/lattice-rf/awgctrl/logging"
	"github.com/lattice-rf/awgctrl/memmap"
	"github.com/lattice-rf/awgctrl/xerr"
)

// pollInterval is how often wait loops re-check status registers.
const pollInterval = 10 * time.Millisecond

type wordWriter interface {
	WriteWord(ctx context.Context, addr uint64, value uint32) error
}

// Controller drives one instrument's eight capture units over a register
// transport and a wave-RAM transport (the latter also reaches the
// capture-parameter registry and each unit's captured-data output region).
type Controller struct {
	reg      *access.RegisterAccessor
	ram      *access.WaveRamAccessor
	registry *access.ParamRegistryAccessor
	lock     *iplock.Lock
	log      logging.LogSet
}

// NewController builds a Controller. regT is typically a transport.Transport
// dialed to the instrument's capture register port; ramT is dialed to the
// shared wave-RAM port. ipAddr identifies the instrument for the
// cross-process lock guarding select/act/deselect sequences; it is a
// separate lock file from awg.Controller's, so the two subsystems never
// contend with each other.
func NewController(regT, ramT access.Transporter, ipAddr string, loggers ...*zap.SugaredLogger) (*Controller, error) {
	lock, err := iplock.New(iplock.KindCapture, ipAddr)
	if err != nil {
		return nil, err
	}
	return &Controller{
		reg:      access.NewRegisterAccessor(regT),
		ram:      access.NewWaveRamAccessor(ramT),
		registry: access.NewParamRegistryAccessor(ramT),
		lock:     lock,
		log:      logging.LogSet(loggers),
	}, nil
}

// Close releases the controller's cross-process lock.
func (c *Controller) Close() error {
	return c.lock.Discard()
}

func validateCaptureIDs(ids []hw.CaptureUnitID) error {
	if len(ids) == 0 {
		return xerr.NewValidationError("capture", "no capture unit IDs given")
	}
	for _, id := range ids {
		if !id.IsValid() {
			return xerr.NewValidationError("capture", "invalid capture unit id %d", uint8(id))
		}
	}
	return nil
}

// dedupCaptureIDs returns ids with duplicates removed, preserving first
// occurrence order.
func dedupCaptureIDs(ids []hw.CaptureUnitID) []hw.CaptureUnitID {
	seen := make(map[hw.CaptureUnitID]bool, len(ids))
	out := make([]hw.CaptureUnitID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// NullParam is the minimal valid Param a capture unit is loaded with on
// Initialize: no DSP units enabled, no sum sections, so hardware always has
// well-defined (if useless) parameters.
func NullParam() Param {
	return Param{}
}

// SetCaptureParams validates param and writes it directly onto capID's live
// parameter block, replacing anything previously registered via
// RegisterCaptureParams for that unit.
func (c *Controller) SetCaptureParams(ctx context.Context, capID hw.CaptureUnitID, param Param) error {
	if err := validateCaptureIDs([]hw.CaptureUnitID{capID}); err != nil {
		return err
	}
	warnings, err := param.Validate()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		c.log.Warnw("capture param warning", "capture_unit", capID, "warning", w)
	}

	addr := memmap.CaptureParamAddr(uint8(capID))
	if err := writeCaptureParams(ctx, c.reg, addr, param); err != nil {
		return err
	}
	target := memmap.CaptureAddr(uint8(capID))
	return c.reg.WriteWord(ctx, addr+memmap.CaptureParamOffsetCaptureAddr, uint32(target>>5))
}

// RegisterCaptureParams validates param and writes it to registry slot key
// (0..memmap.MaxCaptureParamRegistryEntries-1). Registry entries carry no
// capture-unit target address: that is bound only when a param is applied
// directly to a unit via SetCaptureParams.
func (c *Controller) RegisterCaptureParams(ctx context.Context, key uint16, param Param) error {
	if int(key) >= memmap.MaxCaptureParamRegistryEntries {
		return xerr.NewValidationError("capture", "registry key %d out of range (max %d)", key, memmap.MaxCaptureParamRegistryEntries-1)
	}
	warnings, err := param.Validate()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		c.log.Warnw("capture param warning", "registry_key", key, "warning", w)
	}

	addr := memmap.CapParamRegistryAddr(key)
	return writeCaptureParams(ctx, c.registry, addr, param)
}

// writeCaptureParams writes every field of param except the capture-unit
// target address, which only a live (non-registry) write supplies.
func writeCaptureParams(ctx context.Context, w wordWriter, addr uint64, param Param) error {
	if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetNumSumSections, uint32(len(param.SumSections))); err != nil {
		return err
	}
	for i, s := range param.SumSections {
		if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetSumSectionLen(i), s.NumWordsToSum); err != nil {
			return err
		}
		if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetPostBlankLen(i), s.NumPostBlankWords); err != nil {
			return err
		}
	}
	if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetNumIntegSections, param.NumIntegSections); err != nil {
		return err
	}
	if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetDspModuleEnable, param.EnableMask()); err != nil {
		return err
	}
	if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetCaptureDelay, param.CaptureDelay); err != nil {
		return err
	}

	for i, coef := range param.ComplexFIRCoefs {
		if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetCompFirRe(i), uint32(int32(real(coef)))); err != nil {
			return err
		}
		if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetCompFirIm(i), uint32(int32(imag(coef)))); err != nil {
			return err
		}
	}
	for i, v := range param.RealFIRICoefs {
		if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetRealFirI(i), uint32(v)); err != nil {
			return err
		}
	}
	for i, v := range param.RealFIRQCoefs {
		if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetRealFirQ(i), uint32(v)); err != nil {
			return err
		}
	}
	for i, coef := range param.ComplexWindowCoefs {
		if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetCompWindowRe(i), uint32(int32(real(coef)))); err != nil {
			return err
		}
		if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetCompWindowIm(i), uint32(int32(imag(coef)))); err != nil {
			return err
		}
	}

	endWordNo := sumEndWordNo(param.SumStartWordNo, param.NumWordsToSum)
	if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetSumStartTime, param.SumStartWordNo); err != nil {
		return err
	}
	if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetSumEndTime, endWordNo); err != nil {
		return err
	}

	for unit, df := range param.DecisionFuncParams {
		base := unit * 3
		words := [3]uint32{
			math.Float32bits(df.A),
			math.Float32bits(df.B),
			math.Float32bits(df.C),
		}
		for j, word := range words {
			if err := w.WriteWord(ctx, addr+memmap.CaptureParamOffsetDecisionFunc(base+j), word); err != nil {
				return err
			}
		}
	}
	return nil
}

// sumEndWordNo computes SUM_END_WORD_NO, clamped to the width of the
// register it is written into.
func sumEndWordNo(start, count uint32) uint32 {
	end := uint64(start) + uint64(count) - 1
	if end > memmap.MaxSumSectionLen {
		end = memmap.MaxSumSectionLen
	}
	return uint32(end)
}

// SelectTriggerAwg wires capture module moduleID's start trigger to awgID's
// DONE pulse. A nil awgID disables the trigger source for that module.
func (c *Controller) SelectTriggerAwg(ctx context.Context, moduleID hw.CaptureModuleID, awgID *hw.AwgID) error {
	if !moduleID.IsValid() {
		return xerr.NewValidationError("capture", "invalid capture module id %d", uint8(moduleID))
	}
	var encoded uint32
	if awgID != nil {
		if !awgID.IsValid() {
			return xerr.NewValidationError("capture", "invalid AWG id %d", uint8(*awgID))
		}
		encoded = uint32(*awgID) + 1
	}

	offset := memmap.CaptureMasterCtrlOffsetTrigAwgSel0
	if moduleID == 1 {
		offset = memmap.CaptureMasterCtrlOffsetTrigAwgSel1
	}
	return c.reg.WriteWord(ctx, memmap.CaptureMasterCtrlAddr+uint64(offset), encoded)
}

// EnableStartTrigger lets each capture unit in ids be started by its
// module's trigger source, in addition to an explicit StartCaptureUnits call.
func (c *Controller) EnableStartTrigger(ctx context.Context, ids ...hw.CaptureUnitID) error {
	return c.setTriggerMaskBits(ctx, ids, true)
}

// DisableStartTrigger stops each capture unit in ids from reacting to its
// module's trigger source.
func (c *Controller) DisableStartTrigger(ctx context.Context, ids ...hw.CaptureUnitID) error {
	return c.setTriggerMaskBits(ctx, ids, false)
}

func (c *Controller) setTriggerMaskBits(ctx context.Context, ids []hw.CaptureUnitID, value bool) error {
	ids = dedupCaptureIDs(ids)
	if err := validateCaptureIDs(ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.reg.WriteBit(ctx, memmap.CaptureMasterCtrlAddr+memmap.CaptureMasterCtrlOffsetAwgTrigMask, memmap.CaptureMasterCtrlBitUnit(uint8(id)), value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) selectCtrlTarget(ctx context.Context, ids []hw.CaptureUnitID) error {
	for _, id := range ids {
		if err := c.reg.WriteBit(ctx, memmap.CaptureMasterCtrlAddr+memmap.CaptureMasterCtrlOffsetCtrlTargetSel, memmap.CaptureMasterCtrlBitUnit(uint8(id)), true); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) deselectCtrlTarget(ctx context.Context, ids []hw.CaptureUnitID) error {
	for _, id := range ids {
		if err := c.reg.WriteBit(ctx, memmap.CaptureMasterCtrlAddr+memmap.CaptureMasterCtrlOffsetCtrlTargetSel, memmap.CaptureMasterCtrlBitUnit(uint8(id)), false); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) writeMasterCtrlBit(ctx context.Context, bit uint8, value bool) error {
	return c.reg.WriteBit(ctx, memmap.CaptureMasterCtrlAddr+memmap.CaptureMasterCtrlOffsetCtrl, bit, value)
}

// StartCaptureUnits starts ids, synchronized so every unit begins at the
// same shared START pulse. Unlike AwgController.StartAwgs there is no
// PREPARE/READY phase: a capture unit is always ready to start.
func (c *Controller) StartCaptureUnits(ctx context.Context, ids ...hw.CaptureUnitID) error {
	ids = dedupCaptureIDs(ids)
	if err := validateCaptureIDs(ids); err != nil {
		return err
	}

	if err := c.lock.Lock(); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := c.selectCtrlTarget(ctx, ids); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.CaptureMasterCtrlBitStart, false); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.CaptureMasterCtrlBitStart, true); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.CaptureMasterCtrlBitStart, false); err != nil {
		return err
	}
	return c.deselectCtrlTarget(ctx, ids)
}

// ResetCaptureUnits pulses the reset line for ids.
func (c *Controller) ResetCaptureUnits(ctx context.Context, ids ...hw.CaptureUnitID) error {
	ids = dedupCaptureIDs(ids)
	if err := validateCaptureIDs(ids); err != nil {
		return err
	}

	if err := c.lock.Lock(); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := c.selectCtrlTarget(ctx, ids); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.CaptureMasterCtrlBitReset, true); err != nil {
		return err
	}
	time.Sleep(10 * time.Microsecond)
	if err := c.writeMasterCtrlBit(ctx, memmap.CaptureMasterCtrlBitReset, false); err != nil {
		return err
	}
	time.Sleep(10 * time.Microsecond)
	return c.deselectCtrlTarget(ctx, ids)
}

// ClearCaptureStopFlags clears the DONE latch on ids so a subsequent
// WaitForCaptureUnitsToStop observes only runs that happen after this call.
func (c *Controller) ClearCaptureStopFlags(ctx context.Context, ids ...hw.CaptureUnitID) error {
	ids = dedupCaptureIDs(ids)
	if err := validateCaptureIDs(ids); err != nil {
		return err
	}

	if err := c.lock.Lock(); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := c.selectCtrlTarget(ctx, ids); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.CaptureMasterCtrlBitDoneClr, false); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.CaptureMasterCtrlBitDoneClr, true); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.CaptureMasterCtrlBitDoneClr, false); err != nil {
		return err
	}
	return c.deselectCtrlTarget(ctx, ids)
}

// WaitForCaptureUnitsToStop blocks until every unit in ids reports DONE, or
// returns a *xerr.TimeoutError once timeout elapses.
func (c *Controller) WaitForCaptureUnitsToStop(ctx context.Context, timeout time.Duration, ids ...hw.CaptureUnitID) error {
	ids = dedupCaptureIDs(ids)
	if err := validateCaptureIDs(ids); err != nil {
		return err
	}
	if timeout < 0 {
		return xerr.NewValidationError("WaitForCaptureUnitsToStop", "timeout must be non-negative, got %s", timeout)
	}
	return pollUntil(ctx, timeout, "WaitForCaptureUnitsToStop", "all capture units done", func() (bool, error) {
		for _, id := range ids {
			done, err := c.reg.ReadBit(ctx, memmap.CaptureCtrlAddr(uint8(id))+memmap.CaptureCtrlOffsetStatus, memmap.CaptureStatusBitDone)
			if err != nil {
				return false, err
			}
			if !done {
				return false, nil
			}
		}
		return true, nil
	})
}

// pollUntil re-evaluates check every pollInterval until it returns true or
// timeout elapses, at which point it returns a *xerr.TimeoutError naming op
// and expected.
func pollUntil(ctx context.Context, timeout time.Duration, op, expected string, check func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return xerr.NewTimeoutError(op, expected, "not observed before deadline")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// NumCapturedSamples returns the number of (I,Q) samples capID's last run
// wrote to its output region, as reported by the hardware.
func (c *Controller) NumCapturedSamples(ctx context.Context, capID hw.CaptureUnitID) (uint32, error) {
	if err := validateCaptureIDs([]hw.CaptureUnitID{capID}); err != nil {
		return 0, err
	}
	return c.reg.ReadWord(ctx, memmap.CaptureParamAddr(uint8(capID))+memmap.CaptureParamOffsetNumCapturedSamples)
}

// IQSample is one captured (I,Q) pair, decoded from little-endian
// IEEE-754 singles.
type IQSample struct {
	I, Q float32
}

// GetCaptureData reads back exactly numSamples (I,Q) pairs starting
// addrOffset bytes into capID's output region.
func (c *Controller) GetCaptureData(ctx context.Context, capID hw.CaptureUnitID, numSamples int, addrOffset uint64) ([]IQSample, error) {
	if err := validateCaptureIDs([]hw.CaptureUnitID{capID}); err != nil {
		return nil, err
	}
	if numSamples < 0 {
		return nil, xerr.NewValidationError("GetCaptureData", "num samples must be non-negative, got %d", numSamples)
	}

	numBytes := roundUpToWord(uint64(numSamples) * memmap.CapturedSampleSize)
	addr := memmap.CaptureAddr(uint8(capID)) + addrOffset
	data, err := c.ram.Read(ctx, addr, int(numBytes))
	if err != nil {
		return nil, err
	}

	out := make([]IQSample, numSamples)
	for i := range out {
		off := i * memmap.CapturedSampleSize
		out[i].I = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		out[i].Q = math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:]))
	}
	return out, nil
}

// GetClassificationResults reads back exactly numResults two-bit
// classification values (each 0..3) starting addrOffset bytes into capID's
// output region.
func (c *Controller) GetClassificationResults(ctx context.Context, capID hw.CaptureUnitID, numResults int, addrOffset uint64) ([]uint8, error) {
	if err := validateCaptureIDs([]hw.CaptureUnitID{capID}); err != nil {
		return nil, err
	}
	if numResults < 0 {
		return nil, xerr.NewValidationError("GetClassificationResults", "num results must be non-negative, got %d", numResults)
	}

	needBytes := (numResults*classificationBitsPerResult + 7) / 8
	numBytes := roundUpToWord(uint64(needBytes))
	addr := memmap.CaptureAddr(uint8(capID)) + addrOffset
	data, err := c.ram.Read(ctx, addr, int(numBytes))
	if err != nil {
		return nil, err
	}
	return DecodeClassificationResults(data, numResults)
}

func roundUpToWord(n uint64) uint64 {
	return ((n + memmap.CaptureDataAlignment - 1) / memmap.CaptureDataAlignment) * memmap.CaptureDataAlignment
}

// Initialize prepares ids for use: disables their start trigger, deselects
// them from the master control register, clears their control register,
// pulses reset, and writes the minimal null Param so hardware always has
// valid parameters. Call this before any other Controller method touching
// these units.
func (c *Controller) Initialize(ctx context.Context, ids ...hw.CaptureUnitID) error {
	ids = dedupCaptureIDs(ids)
	if err := validateCaptureIDs(ids); err != nil {
		return err
	}

	if err := c.DisableStartTrigger(ctx, ids...); err != nil {
		return err
	}
	if err := c.deselectCtrlTarget(ctx, ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.reg.WriteWord(ctx, memmap.CaptureCtrlAddr(uint8(id))+memmap.CaptureCtrlOffsetCtrl, 0); err != nil {
			return err
		}
	}
	if err := c.ResetCaptureUnits(ctx, ids...); err != nil {
		return err
	}

	null := NullParam()
	for _, id := range ids {
		if err := c.SetCaptureParams(ctx, id, null); err != nil {
			return err
		}
	}
	c.log.Debugw("initialized capture units", "capture_units", ids)
	return nil
}

// CheckErr reports the latched hardware error conditions on each unit in
// ids; a unit with no errors is omitted from the result.
func (c *Controller) CheckErr(ctx context.Context, ids ...hw.CaptureUnitID) (map[hw.CaptureUnitID][]hw.CaptureErr, error) {
	ids = dedupCaptureIDs(ids)
	if err := validateCaptureIDs(ids); err != nil {
		return nil, err
	}

	out := make(map[hw.CaptureUnitID][]hw.CaptureErr)
	for _, id := range ids {
		addr := memmap.CaptureCtrlAddr(uint8(id))
		var errs []hw.CaptureErr
		if bit, err := c.reg.ReadBit(ctx, addr+memmap.CaptureCtrlOffsetErr, memmap.CaptureErrBitOverflow); err != nil {
			return nil, err
		} else if bit {
			errs = append(errs, hw.CaptureErrOverflow)
		}
		if bit, err := c.reg.ReadBit(ctx, addr+memmap.CaptureCtrlOffsetErr, memmap.CaptureErrBitWrite); err != nil {
			return nil, err
		} else if bit {
			errs = append(errs, hw.CaptureErrMemWrite)
		}
		if len(errs) > 0 {
			out[id] = errs
		}
	}
	return out, nil
}

// Version returns the capture subsystem's firmware version string, in the
// form "<char>:20<year>/<month>/<day>-<id>".
func (c *Controller) Version(ctx context.Context) (string, error) {
	data, err := c.reg.ReadWord(ctx, memmap.CaptureMasterCtrlAddr+memmap.CaptureMasterCtrlOffsetVersion)
	if err != nil {
		return "", err
	}
	verChar := rune(0xFF & (data >> 24))
	verYear := 0xFF & (data >> 16)
	verMonth := 0xF & (data >> 12)
	verDay := 0xFF & (data >> 4)
	verID := 0xF & data
	return fmt.Sprintf("%c:20%02d/%02d/%02d-%d", verChar, verYear, verMonth, verDay, verID), nil
}
