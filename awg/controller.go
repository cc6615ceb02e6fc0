// Package awg drives the sixteen arbitrary waveform generators: loading
// wave sequences (directly or into a per-AWG registry), starting and
// stopping them as a synchronized group, and reading back their status.
package awg

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lattice-rf/awgctrl/access"
	"github.com/lattice-rf/awgctrl/hw"
	"github.com/lattice-rf/awgctrl/iplock"
	"github.com/lattice-rf/awgctrl/logging"
	"github.com/lattice-rf/awgctrl/memmap"
	"github.com/lattice-rf/awgctrl/wave"
	"github.com/lattice-rf/awgctrl/xerr"
)

// pollInterval is how often wait loops re-check status registers.
const pollInterval = 10 * time.Millisecond

// WaveRegistryKey selects where a wave sequence passed to
// RegisterWaveSequences is loaded: Inline means "set directly on the AWG,
// exactly as SetWaveSequence would", Key selects one of the AWG's 512
// registry slots.
type WaveRegistryKey struct {
	Inline bool
	Key    uint16
}

// InlineKey is the registry entry key that loads a sequence directly onto
// the AWG, bypassing the registry.
func InlineKey() WaveRegistryKey {
	return WaveRegistryKey{Inline: true}
}

// RegistryKey is the registry entry key that stores a sequence in slot
// key (0..memmap.MaxWaveRegistryEntries-1).
func RegistryKey(key uint16) WaveRegistryKey {
	return WaveRegistryKey{Key: key}
}

// WaveRegistryEntry pairs a registry slot with the sequence to load into
// it. Entries are processed in slice order: the address a registry entry's
// sample data lands at depends on the cumulative size of every preceding
// non-inline entry, so order is significant.
type WaveRegistryEntry struct {
	Key      WaveRegistryKey
	Sequence wave.Sequence
}

type wordWriter interface {
	WriteWord(ctx context.Context, addr uint64, value uint32) error
}

type wordReader interface {
	ReadWord(ctx context.Context, addr uint64) (uint32, error)
}

type bitReadWriter interface {
	ReadBit(ctx context.Context, addr uint64, bit uint8) (bool, error)
	WriteBit(ctx context.Context, addr uint64, bit uint8, value bool) error
}

// Controller drives one instrument's sixteen AWGs over a register
// transport and a wave-RAM transport.
type Controller struct {
	reg      *access.RegisterAccessor
	ram      *access.WaveRamAccessor
	registry *access.ParamRegistryAccessor
	lock     *iplock.Lock
	log      logging.LogSet
}

// NewController builds a Controller. regT and ramT are typically two
// transport.Transport values dialed to the instrument's AWG register port
// and wave-RAM port respectively; tests pass faketransport.Fake values
// instead. ipAddr identifies the instrument for the cross-process lock
// that guards select/act/deselect sequences.
func NewController(regT, ramT access.Transporter, ipAddr string, loggers ...*zap.SugaredLogger) (*Controller, error) {
	lock, err := iplock.New(iplock.KindAwg, ipAddr)
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

func validateAwgIDs(ids []hw.AwgID) error {
	if len(ids) == 0 {
		return xerr.NewValidationError("awg", "no AWG IDs given")
	}
	for _, id := range ids {
		if !id.IsValid() {
			return xerr.NewValidationError("awg", "invalid AWG id %d", uint8(id))
		}
	}
	return nil
}

// dedupAwgIDs returns ids with duplicates removed, preserving first
// occurrence order, mirroring how a Python caller's *awg_id_list could
// repeat an id without it being selected/deselected twice.
func dedupAwgIDs(ids []hw.AwgID) []hw.AwgID {
	seen := make(map[hw.AwgID]bool, len(ids))
	out := make([]hw.AwgID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// SetWaveSequence loads seq directly onto awgID, replacing anything
// previously registered via RegisterWaveSequences for that AWG.
func (c *Controller) SetWaveSequence(ctx context.Context, awgID hw.AwgID, seq wave.Sequence) error {
	if err := validateAwgIDs([]hw.AwgID{awgID}); err != nil {
		return err
	}
	if err := seq.Validate(); err != nil {
		return err
	}
	return c.setWaveSequence(ctx, awgID, seq)
}

func (c *Controller) setWaveSequence(ctx context.Context, awgID hw.AwgID, seq wave.Sequence) error {
	if err := checkWaveSeqDataSize(awgID, seq); err != nil {
		return err
	}
	chunkAddrs := calcChunkAddrs(awgID, seq, 0)
	addr := memmap.WaveParamAddr(uint8(awgID))
	if err := writeWaveParams(ctx, c.reg, addr, seq, chunkAddrs); err != nil {
		return err
	}
	return sendWaveSamples(ctx, c.ram, seq, chunkAddrs)
}

// RegisterWaveSequences loads entries into awgID's wave registry (or
// directly onto the AWG, for InlineKey() entries). Calling this again for
// the same AWG discards whatever was previously registered; calling
// SetWaveSequence afterwards discards whatever an InlineKey() entry here
// loaded, and vice versa — the two share the same AWG-resident storage.
func (c *Controller) RegisterWaveSequences(ctx context.Context, awgID hw.AwgID, entries []WaveRegistryEntry) error {
	if err := validateAwgIDs([]hw.AwgID{awgID}); err != nil {
		return err
	}
	seqs := make([]wave.Sequence, len(entries))
	for i, e := range entries {
		if !e.Key.Inline && int(e.Key.Key) >= memmap.MaxWaveRegistryEntries {
			return xerr.NewValidationError("awg", "registry key %d out of range (max %d)", e.Key.Key, memmap.MaxWaveRegistryEntries-1)
		}
		if err := e.Sequence.Validate(); err != nil {
			return err
		}
		seqs[i] = e.Sequence
	}
	if err := checkWaveSeqDataSize(awgID, seqs...); err != nil {
		return err
	}

	var addrOffset uint64
	for _, e := range entries {
		if e.Key.Inline {
			if err := c.setWaveSequence(ctx, awgID, e.Sequence); err != nil {
				return err
			}
			continue
		}

		chunkAddrs := calcChunkAddrs(awgID, e.Sequence, addrOffset)
		addr := memmap.WaveSeqRegistryAddr(uint8(awgID), e.Key.Key)
		if err := writeWaveParams(ctx, c.registry, addr, e.Sequence, chunkAddrs); err != nil {
			return err
		}
		if err := sendWaveSamples(ctx, c.ram, e.Sequence, chunkAddrs); err != nil {
			return err
		}
		addrOffset += calcWaveSeqDataSize(e.Sequence)
	}
	return nil
}

func checkWaveSeqDataSize(awgID hw.AwgID, seqs ...wave.Sequence) error {
	var size uint64
	for _, s := range seqs {
		size += calcWaveSeqDataSize(s)
	}
	if size > memmap.MaxWaveSequenceBytes {
		return xerr.NewValidationError("awg",
			"wave sequence(s) for %s need %d bytes of RAM, over the %d byte limit", awgID, size, memmap.MaxWaveSequenceBytes)
	}
	return nil
}

func calcWaveSeqDataSize(seq wave.Sequence) uint64 {
	return seq.DataSize()
}

func calcChunkAddrs(awgID hw.AwgID, seq wave.Sequence, addrOffset uint64) []uint64 {
	addrs := make([]uint64, len(seq.Chunks))
	base := memmap.AwgWaveSrcAddr(uint8(awgID))
	for i, chunk := range seq.Chunks {
		addrs[i] = base + addrOffset
		addrOffset += chunk.DataSize()
	}
	return addrs
}

func writeWaveParams(ctx context.Context, w wordWriter, addr uint64, seq wave.Sequence, chunkAddrs []uint64) error {
	if err := w.WriteWord(ctx, addr+memmap.WaveParamOffsetNumWaitWords, seq.NumWaitWords); err != nil {
		return err
	}
	if err := w.WriteWord(ctx, addr+memmap.WaveParamOffsetNumRepeats, seq.NumRepeats); err != nil {
		return err
	}
	if err := w.WriteWord(ctx, addr+memmap.WaveParamOffsetNumChunks, uint32(len(seq.Chunks))); err != nil {
		return err
	}

	for i, chunk := range seq.Chunks {
		chunkOff := memmap.WaveParamChunkOffset(i)
		if err := w.WriteWord(ctx, addr+chunkOff+memmap.WaveParamChunkOffsetStartAddr, uint32(chunkAddrs[i]>>4)); err != nil {
			return err
		}
		if err := w.WriteWord(ctx, addr+chunkOff+memmap.WaveParamChunkOffsetWavePartWords, chunk.NumWavePartWords()); err != nil {
			return err
		}
		if err := w.WriteWord(ctx, addr+chunkOff+memmap.WaveParamChunkOffsetBlankWords, chunk.NumBlankWords); err != nil {
			return err
		}
		if err := w.WriteWord(ctx, addr+chunkOff+memmap.WaveParamChunkOffsetChunkRepeats, chunk.NumRepeats); err != nil {
			return err
		}
	}
	return nil
}

func sendWaveSamples(ctx context.Context, ram *access.WaveRamAccessor, seq wave.Sequence, chunkAddrs []uint64) error {
	for i, chunk := range seq.Chunks {
		data := wave.SerializeSamples(chunk.Samples)
		if err := ram.Write(ctx, chunkAddrs[i], data); err != nil {
			return err
		}
	}
	return nil
}

// Initialize prepares awgIDs for use: deselects them from the master
// control register, clears their control register, sets their wave
// startable block interval to 1, and loads the minimal null wave sequence.
// Call this before any other Controller method touching these AWGs.
func (c *Controller) Initialize(ctx context.Context, awgIDs ...hw.AwgID) error {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return err
	}

	if err := c.deselectCtrlTarget(ctx, ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.reg.WriteWord(ctx, memmap.AwgCtrlAddr(uint8(id))+memmap.AwgCtrlOffsetCtrl, 0); err != nil {
			return err
		}
	}

	nullSeq := wave.NullSequence()
	for _, id := range ids {
		if err := c.SetWaveStartableBlockTiming(ctx, 1, id); err != nil {
			return err
		}
		if err := c.setWaveSequence(ctx, id, nullSeq); err != nil {
			return err
		}
	}
	c.log.Debugw("initialized AWGs", "awgs", ids)
	return nil
}

func (c *Controller) selectCtrlTarget(ctx context.Context, ids []hw.AwgID) error {
	for _, id := range ids {
		if err := c.reg.WriteBit(ctx, memmap.AwgMasterCtrlAddr+memmap.AwgMasterCtrlOffsetCtrlTargetSel, memmap.AwgMasterCtrlBitAwg(uint8(id)), true); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) deselectCtrlTarget(ctx context.Context, ids []hw.AwgID) error {
	for _, id := range ids {
		if err := c.reg.WriteBit(ctx, memmap.AwgMasterCtrlAddr+memmap.AwgMasterCtrlOffsetCtrlTargetSel, memmap.AwgMasterCtrlBitAwg(uint8(id)), false); err != nil {
			return err
		}
	}
	return nil
}

// StartAwgs starts waveform output on awgIDs, synchronized so every AWG
// begins at the same shared PREPARE/START pulse. Hidden behind the
// cross-process lock so no other process's select/act/deselect sequence
// interleaves with this one.
func (c *Controller) StartAwgs(ctx context.Context, awgIDs ...hw.AwgID) error {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return err
	}

	if err := c.lock.Lock(); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := c.selectCtrlTarget(ctx, ids); err != nil {
		return err
	}
	if err := c.pulseMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitPrepare); err != nil {
		return err
	}
	if err := c.waitForAwgsReady(ctx, 5*time.Second, ids); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitPrepare, false); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitStart, false); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitStart, true); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitStart, false); err != nil {
		return err
	}
	return c.deselectCtrlTarget(ctx, ids)
}

func (c *Controller) writeMasterCtrlBit(ctx context.Context, bit uint8, value bool) error {
	return c.reg.WriteBit(ctx, memmap.AwgMasterCtrlAddr+memmap.AwgMasterCtrlOffsetCtrl, bit, value)
}

func (c *Controller) pulseMasterCtrlBit(ctx context.Context, bit uint8) error {
	if err := c.writeMasterCtrlBit(ctx, bit, false); err != nil {
		return err
	}
	return c.writeMasterCtrlBit(ctx, bit, true)
}

// TerminateAwgs forces awgIDs to stop immediately, without waiting for
// their wave sequence to finish naturally.
func (c *Controller) TerminateAwgs(ctx context.Context, awgIDs ...hw.AwgID) error {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return err
	}

	for _, id := range ids {
		addr := memmap.AwgCtrlAddr(uint8(id))
		if err := c.reg.WriteBit(ctx, addr+memmap.AwgCtrlOffsetCtrl, memmap.AwgCtrlBitTerminate, true); err != nil {
			return err
		}
		if err := c.waitForAwgsIdle(ctx, 3*time.Second, []hw.AwgID{id}); err != nil {
			return err
		}
		if err := c.reg.WriteBit(ctx, addr+memmap.AwgCtrlOffsetCtrl, memmap.AwgCtrlBitTerminate, false); err != nil {
			return err
		}
	}
	return nil
}

// ResetAwgs pulses the reset line for awgIDs. The original instrument
// notes this can desynchronize an unrelated JESD204C transmit counter from
// the AWG's own frame counter, so Initialize deliberately never calls it;
// callers take on that risk themselves.
func (c *Controller) ResetAwgs(ctx context.Context, awgIDs ...hw.AwgID) error {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return err
	}

	if err := c.lock.Lock(); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := c.selectCtrlTarget(ctx, ids); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitReset, true); err != nil {
		return err
	}
	time.Sleep(10 * time.Microsecond)
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitReset, false); err != nil {
		return err
	}
	time.Sleep(10 * time.Microsecond)
	return c.deselectCtrlTarget(ctx, ids)
}

// ClearAwgStopFlags clears the STATUS_DONE latch on awgIDs so a subsequent
// WaitForAwgsToStop observes only runs that happen after this call.
func (c *Controller) ClearAwgStopFlags(ctx context.Context, awgIDs ...hw.AwgID) error {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return err
	}

	if err := c.lock.Lock(); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := c.selectCtrlTarget(ctx, ids); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitDoneClr, false); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitDoneClr, true); err != nil {
		return err
	}
	if err := c.writeMasterCtrlBit(ctx, memmap.AwgMasterCtrlBitDoneClr, false); err != nil {
		return err
	}
	return c.deselectCtrlTarget(ctx, ids)
}

// WaitForAwgsToStop blocks until every AWG in awgIDs reports STATUS_DONE,
// or returns a *xerr.TimeoutError once timeout elapses.
func (c *Controller) WaitForAwgsToStop(ctx context.Context, timeout time.Duration, awgIDs ...hw.AwgID) error {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return err
	}
	if timeout < 0 {
		return xerr.NewValidationError("WaitForAwgsToStop", "timeout must be non-negative, got %s", timeout)
	}
	return pollUntil(ctx, timeout, "WaitForAwgsToStop", "all AWGs done", func() (bool, error) {
		for _, id := range ids {
			done, err := c.reg.ReadBit(ctx, memmap.AwgCtrlAddr(uint8(id))+memmap.AwgCtrlOffsetStatus, memmap.AwgStatusBitDone)
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

func (c *Controller) waitForAwgsReady(ctx context.Context, timeout time.Duration, ids []hw.AwgID) error {
	return pollUntil(ctx, timeout, "StartAwgs", "all AWGs ready", func() (bool, error) {
		for _, id := range ids {
			ready, err := c.reg.ReadBit(ctx, memmap.AwgCtrlAddr(uint8(id))+memmap.AwgCtrlOffsetStatus, memmap.AwgStatusBitReady)
			if err != nil {
				return false, err
			}
			if !ready {
				return false, nil
			}
		}
		return true, nil
	})
}

func (c *Controller) waitForAwgsIdle(ctx context.Context, timeout time.Duration, ids []hw.AwgID) error {
	return pollUntil(ctx, timeout, "TerminateAwgs", "all AWGs idle", func() (bool, error) {
		for _, id := range ids {
			busy, err := c.reg.ReadBit(ctx, memmap.AwgCtrlAddr(uint8(id))+memmap.AwgCtrlOffsetStatus, memmap.AwgStatusBitBusy)
			if err != nil {
				return false, err
			}
			if busy {
				return false, nil
			}
		}
		return true, nil
	})
}

// pollUntil re-evaluates check every pollInterval until it returns true or
// timeout elapses, at which point it returns a *xerr.TimeoutError naming
// op and expected.
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

// SetWaveStartableBlockTiming sets, in AWG words, the granularity at which
// awgIDs may begin a new wave block once started.
func (c *Controller) SetWaveStartableBlockTiming(ctx context.Context, interval uint32, awgIDs ...hw.AwgID) error {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.reg.WriteWord(ctx, memmap.WaveParamAddr(uint8(id))+memmap.WaveParamOffsetWaveStartableBlockInterval, interval); err != nil {
			return err
		}
	}
	return nil
}

// GetWaveStartableBlockTiming returns the current wave-startable block
// interval for each AWG in awgIDs.
func (c *Controller) GetWaveStartableBlockTiming(ctx context.Context, awgIDs ...hw.AwgID) (map[hw.AwgID]uint32, error) {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return nil, err
	}
	out := make(map[hw.AwgID]uint32, len(ids))
	for _, id := range ids {
		v, err := c.reg.ReadWord(ctx, memmap.WaveParamAddr(uint8(id))+memmap.WaveParamOffsetWaveStartableBlockInterval)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// CheckErr reports the latched hardware error conditions on each AWG in
// awgIDs; an AWG with no errors is omitted from the result.
func (c *Controller) CheckErr(ctx context.Context, awgIDs ...hw.AwgID) (map[hw.AwgID][]hw.AwgErr, error) {
	ids := dedupAwgIDs(awgIDs)
	if err := validateAwgIDs(ids); err != nil {
		return nil, err
	}

	out := make(map[hw.AwgID][]hw.AwgErr)
	for _, id := range ids {
		addr := memmap.AwgCtrlAddr(uint8(id))
		var errs []hw.AwgErr
		if bit, err := c.reg.ReadBit(ctx, addr+memmap.AwgCtrlOffsetErr, memmap.AwgErrBitRead); err != nil {
			return nil, err
		} else if bit {
			errs = append(errs, hw.AwgErrMemRead)
		}
		if bit, err := c.reg.ReadBit(ctx, addr+memmap.AwgCtrlOffsetErr, memmap.AwgErrBitSampleShortage); err != nil {
			return nil, err
		} else if bit {
			errs = append(errs, hw.AwgErrSampleShortage)
		}
		if len(errs) > 0 {
			out[id] = errs
		}
	}
	return out, nil
}

// Version returns the AWG subsystem's firmware version string, in the
// form "<char>:20<year>/<month>/<day>-<id>".
func (c *Controller) Version(ctx context.Context) (string, error) {
	data, err := c.reg.ReadWord(ctx, memmap.AwgMasterCtrlAddr+memmap.AwgMasterCtrlOffsetVersion)
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
