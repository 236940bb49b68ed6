package jtag

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/OpenTraceLab/cpldupdate/pkg/tap"
)

// TAPDriver implements Driver on a bit-level Adapter by tracking the TAP
// state on the host and generating the TMS walks between states.
type TAPDriver struct {
	mu      sync.Mutex
	adapter Adapter
	tap     *tap.StateMachine
	hz      uint32
	closed  bool
}

// NewTAPDriver resets the TAP behind a and returns a driver for it.
func NewTAPDriver(a Adapter) (*TAPDriver, error) {
	d := &TAPDriver{adapter: a, tap: tap.NewStateMachine()}
	if err := d.reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Adapter returns the probe behind d.
func (d *TAPDriver) Adapter() Adapter { return d.adapter }

func (d *TAPDriver) reset() error {
	if err := d.adapter.ResetTAP(false); err != nil && !errors.Is(err, ErrNotImplemented) {
		return fmt.Errorf("jtag: reset: %w", err)
	}
	seq := d.tap.Reset()
	_, err := d.dispatch(domainDR, seq.TMS, nil)
	return err
}

func (d *TAPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	if c, ok := d.adapter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *TAPDriver) Frequency() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	return d.hz, nil
}

func (d *TAPDriver) SetFrequency(hz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.adapter.SetSpeed(int(hz)); err != nil {
		return fmt.Errorf("jtag: set frequency %d: %w", hz, err)
	}
	d.hz = hz
	return nil
}

func (d *TAPDriver) RunTestIdle(reset bool, end tap.State, tck uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if !end.Stable() {
		return fmt.Errorf("jtag: end state %s is not stable", end)
	}
	if reset {
		if err := d.reset(); err != nil {
			return err
		}
	}
	idle, err := d.tap.Idle(int(tck))
	if err != nil {
		return err
	}
	tail, err := d.tap.GoTo(end)
	if err != nil {
		return err
	}
	tms := append(idle.TMS, tail.TMS...)
	if len(tms) == 0 {
		return nil
	}
	_, err = d.dispatch(domainDR, tms, nil)
	return err
}

func (d *TAPDriver) ShiftIR(end tap.State, bits int, value uint32) error {
	if err := checkShift(end, bits, MaxIRBits); err != nil {
		return err
	}
	tdi := []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	_, err := d.shift(domainIR, end, bits, tdi)
	return err
}

func (d *TAPDriver) ShiftDRIn(end tap.State, bits int, tdi []byte) error {
	if err := checkShift(end, bits, 0); err != nil {
		return err
	}
	if len(tdi) < byteLen(bits) {
		return fmt.Errorf("%w: %d bits from %d bytes", ErrBadLength, bits, len(tdi))
	}
	_, err := d.shift(domainDR, end, bits, tdi)
	return err
}

func (d *TAPDriver) ShiftDROut(end tap.State, bits int) ([]byte, error) {
	if err := checkShift(end, bits, 0); err != nil {
		return nil, err
	}
	return d.shift(domainDR, end, bits, nil)
}

// shift walks to Shift-IR or Shift-DR, clocks bits bits with TMS raised on
// the last one, then walks on to end, all in one adapter call.
func (d *TAPDriver) shift(domain shiftDomain, end tap.State, bits int, tdi []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	target := tap.StateShiftDR
	if domain == domainIR {
		target = tap.StateShiftIR
	}
	if err := d.gotoState(target); err != nil {
		return nil, err
	}

	tms := make([]bool, bits)
	tms[bits-1] = true
	for _, bit := range tms {
		d.tap.Clock(bit)
	}
	tail, err := d.tap.GoTo(end)
	if err != nil {
		return nil, err
	}
	tms = append(tms, tail.TMS...)

	data := make([]bool, len(tms))
	for i := 0; i < bits; i++ {
		data[i] = bitAt(tdi, i)
	}

	tdo, err := d.dispatch(domain, tms, data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, byteLen(bits))
	for i := 0; i < bits; i++ {
		setBit(out, i, bitAt(tdo, i))
	}
	return out, nil
}

func (d *TAPDriver) gotoState(target tap.State) error {
	from := d.tap.State()
	seq, err := d.tap.GoTo(target)
	if err != nil {
		return err
	}
	if len(seq.TMS) == 0 {
		return nil
	}
	_, err = d.dispatch(domainFromState(from), seq.TMS, nil)
	return err
}

func (d *TAPDriver) dispatch(domain shiftDomain, tms, tdi []bool) ([]byte, error) {
	if len(tms) == 0 {
		return nil, nil
	}
	bits := len(tms)
	tmsBytes := boolsToBytes(tms)
	tdiBytes := make([]byte, len(tmsBytes))
	if len(tdi) > 0 {
		tdiBytes = boolsToBytes(tdi)
	}
	switch domain {
	case domainIR:
		return d.adapter.ShiftIR(tmsBytes, tdiBytes, bits)
	default:
		return d.adapter.ShiftDR(tmsBytes, tdiBytes, bits)
	}
}

type shiftDomain uint8

const (
	domainDR shiftDomain = iota
	domainIR
)

func domainFromState(state tap.State) shiftDomain {
	switch state {
	case tap.StateSelectIRScan, tap.StateCaptureIR, tap.StateShiftIR,
		tap.StateExit1IR, tap.StatePauseIR, tap.StateExit2IR, tap.StateUpdateIR:
		return domainIR
	default:
		return domainDR
	}
}
