package jtag

import (
	"fmt"
	"sync"

	"github.com/OpenTraceLab/cpldupdate/pkg/tap"
)

// ScanHandler plays the device side of a SimAdapter. Capture returns the
// register contents shifted out next (LSB first, zeros past the end); Update
// receives the bits shifted in since the matching capture.
type ScanHandler interface {
	CaptureIR() []byte
	UpdateIR(tdi []byte, bits int)
	CaptureDR() []byte
	UpdateDR(tdi []byte, bits int)
	// Reset is called on entry to Test-Logic-Reset.
	Reset()
	// Idle is called for every clock spent in Run-Test/Idle.
	Idle()
}

// ShiftRegion identifies whether a shift targets the instruction or data
// register.
type ShiftRegion uint8

const (
	ShiftRegionIR ShiftRegion = iota
	ShiftRegionDR
)

// ShiftOp is one recorded adapter call.
type ShiftOp struct {
	Region ShiftRegion
	TMS    []byte
	TDI    []byte
	Bits   int
}

// SimAdapter is an in-memory probe. It runs its own TAP controller off the
// TMS stream and drives a ScanHandler, so a device model sees exactly what a
// real chip on the wire would.
type SimAdapter struct {
	InfoData AdapterInfo
	SpeedHz  int
	Handler  ScanHandler

	mu        sync.Mutex
	tap       *tap.StateMachine
	capture   []byte
	shifted   []byte
	pos       int
	lastShift ShiftOp
	resets    int
	hardReset int
}

// NewSimAdapter returns a simulator in Test-Logic-Reset driving h, which
// may be nil for an empty chain that shifts out zeros.
func NewSimAdapter(info AdapterInfo, h ScanHandler) *SimAdapter {
	return &SimAdapter{InfoData: info, Handler: h, tap: tap.NewStateMachine()}
}

// State reports the simulated TAP state.
func (s *SimAdapter) State() tap.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tap.State()
}

// LastShift returns a copy of the most recent shift call.
func (s *SimAdapter) LastShift() ShiftOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ShiftOp{
		Region: s.lastShift.Region,
		TMS:    append([]byte(nil), s.lastShift.TMS...),
		TDI:    append([]byte(nil), s.lastShift.TDI...),
		Bits:   s.lastShift.Bits,
	}
}

// ResetCounts reports how many resets were requested, and how many of them
// were hard resets.
func (s *SimAdapter) ResetCounts() (soft, hard int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets, s.hardReset
}

func (s *SimAdapter) Info() (AdapterInfo, error) {
	return s.InfoData, nil
}

func (s *SimAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionIR, tms, tdi, bits)
}

func (s *SimAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionDR, tms, tdi, bits)
}

func (s *SimAdapter) ResetTAP(hard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	if hard {
		s.hardReset++
	}
	s.tap.Reset()
	if s.Handler != nil {
		s.Handler.Reset()
	}
	return nil
}

func (s *SimAdapter) SetSpeed(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("jtag: invalid speed %dHz", hz)
	}
	s.mu.Lock()
	s.SpeedHz = hz
	s.mu.Unlock()
	return nil
}

func (s *SimAdapter) shift(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error) {
	if _, err := ValidateShiftBuffers(tms, tdi, bits); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastShift = ShiftOp{
		Region: region,
		TMS:    append([]byte(nil), tms...),
		TDI:    append([]byte(nil), tdi...),
		Bits:   bits,
	}

	tdo := make([]byte, byteLen(bits))
	for i := 0; i < bits; i++ {
		setBit(tdo, i, s.clock(bitAt(tms, i), bitAt(tdi, i)))
	}
	return tdo, nil
}

// clock advances one TCK edge and returns TDO for it.
func (s *SimAdapter) clock(tms, tdi bool) bool {
	var tdo bool
	switch s.tap.State() {
	case tap.StateShiftIR, tap.StateShiftDR:
		tdo = bitAt(s.capture, s.pos)
		if byteLen(s.pos+1) > len(s.shifted) {
			s.shifted = append(s.shifted, 0)
		}
		setBit(s.shifted, s.pos, tdi)
		s.pos++
	case tap.StateRunTestIdle:
		if s.Handler != nil {
			s.Handler.Idle()
		}
	}

	next := s.tap.Clock(tms)
	switch next {
	case tap.StateCaptureIR, tap.StateCaptureDR:
		s.capture, s.shifted, s.pos = nil, nil, 0
		if s.Handler != nil {
			if next == tap.StateCaptureIR {
				s.capture = s.Handler.CaptureIR()
			} else {
				s.capture = s.Handler.CaptureDR()
			}
		}
	case tap.StateUpdateIR:
		if s.Handler != nil {
			s.Handler.UpdateIR(s.shifted, s.pos)
		}
	case tap.StateUpdateDR:
		if s.Handler != nil {
			s.Handler.UpdateDR(s.shifted, s.pos)
		}
	case tap.StateTestLogicReset:
		if s.Handler != nil {
			s.Handler.Reset()
		}
	}
	return tdo
}
