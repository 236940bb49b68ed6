// Package jtag provides the raw JTAG drivers the CPLD programmers run on: the
// ASPEED kernel character device, and a TAP-walking driver over USB probes or
// the in-process simulator.
package jtag

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/OpenTraceLab/cpldupdate/pkg/tap"
)

var (
	// ErrClosed is returned by every Driver method after Close.
	ErrClosed = errors.New("jtag: driver closed")
	// ErrNotImplemented lets backends signal a missing capability.
	ErrNotImplemented = errors.New("jtag: not implemented")
	// ErrBadLength is returned for zero-length or oversized shifts.
	ErrBadLength = errors.New("jtag: invalid shift length")
)

// MaxIRBits is the widest instruction ShiftIR accepts.
const MaxIRBits = 32

// Driver is the shift-level contract used by the device programmers. Data
// buffers are LSB-first: bit 0 of byte 0 is shifted first.
type Driver interface {
	Close() error
	Frequency() (uint32, error)
	SetFrequency(hz uint32) error
	// RunTestIdle optionally resets the TAP, clocks tck cycles in
	// Run-Test/Idle and parks the TAP in end.
	RunTestIdle(reset bool, end tap.State, tck uint8) error
	ShiftIR(end tap.State, bits int, value uint32) error
	ShiftDRIn(end tap.State, bits int, tdi []byte) error
	ShiftDROut(end tap.State, bits int) ([]byte, error)
}

func byteLen(bits int) int { return (bits + 7) / 8 }

func checkShift(end tap.State, bits, max int) error {
	if bits <= 0 || (max > 0 && bits > max) {
		return fmt.Errorf("%w: %d bits", ErrBadLength, bits)
	}
	if !end.Stable() {
		return fmt.Errorf("jtag: end state %s is not stable", end)
	}
	return nil
}

// Trace wraps d so every call is logged at V(2).
func Trace(d Driver, log logr.Logger) Driver {
	return &tracer{d: d, log: log.WithName("jtag")}
}

type tracer struct {
	d   Driver
	log logr.Logger
}

func (t *tracer) Close() error {
	t.log.V(2).Info("close")
	return t.d.Close()
}

func (t *tracer) Frequency() (uint32, error) {
	hz, err := t.d.Frequency()
	t.log.V(2).Info("get frequency", "hz", hz, "err", err)
	return hz, err
}

func (t *tracer) SetFrequency(hz uint32) error {
	err := t.d.SetFrequency(hz)
	t.log.V(2).Info("set frequency", "hz", hz, "err", err)
	return err
}

func (t *tracer) RunTestIdle(reset bool, end tap.State, tck uint8) error {
	err := t.d.RunTestIdle(reset, end, tck)
	t.log.V(2).Info("run-test-idle", "reset", reset, "end", end.String(), "tck", tck, "err", err)
	return err
}

func (t *tracer) ShiftIR(end tap.State, bits int, value uint32) error {
	err := t.d.ShiftIR(end, bits, value)
	t.log.V(2).Info("sir", "end", end.String(), "bits", bits, "value", fmt.Sprintf("0x%X", value), "err", err)
	return err
}

func (t *tracer) ShiftDRIn(end tap.State, bits int, tdi []byte) error {
	err := t.d.ShiftDRIn(end, bits, tdi)
	t.log.V(2).Info("sdr in", "end", end.String(), "bits", bits, "tdi", fmt.Sprintf("% X", tdi), "err", err)
	return err
}

func (t *tracer) ShiftDROut(end tap.State, bits int) ([]byte, error) {
	tdo, err := t.d.ShiftDROut(end, bits)
	t.log.V(2).Info("sdr out", "end", end.String(), "bits", bits, "tdo", fmt.Sprintf("% X", tdo), "err", err)
	return tdo, err
}
