// Package lattice drives Lattice MachXO2/MachXO3 parts and the YZBB parts
// built on them, over either JTAG or the I2C configuration port.
package lattice

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
	"github.com/OpenTraceLab/cpldupdate/pkg/jedec"
)

// Configuration-logic opcodes, shared by both ports.
const (
	OpIDCodePub       = 0xE0
	OpCheckBusy       = 0xF0
	OpReadStatus      = 0x3C
	OpEnableX         = 0x74
	OpErase           = 0x0E
	OpInitAddress     = 0x46
	OpInitAddressUFM  = 0x47
	OpProgIncrNV      = 0x70
	OpProgramUsercode = 0xC2
	OpUsercode        = 0xC0
	OpReadIncrNV      = 0x73
	OpProgramDone     = 0x5E
	OpRefresh         = 0x79
	OpDisable         = 0x26
	OpBypass          = 0xFF
)

// Operands.
const (
	enableTransparent = 0x08
	EraseConfig       = 0x04 // CF only
	EraseConfigUFM    = 0x0C // CF and UFM
	readOperand       = 0x04
	// LCMXO3D takes a 24-bit operand for address init and erase.
	wideOperand     = 0x000100
	wideOperandBits = 24
)

const (
	busyBit     = 0x80
	statusShift = 12
	statusMask  = 0x3
)

// Port is the verb set the programming engine runs on. One implementation
// shifts JTAG instructions, the other sends I2C command frames; both leave
// the device array in the same state.
type Port interface {
	ReadID() (uint32, error)
	// Busy reports the busy flag of LSC_CHECK_BUSY.
	Busy() (bool, error)
	// Status returns the 2-bit fail/busy field of LSC_READ_STATUS.
	Status() (uint32, error)

	Enable() error
	Erase(mask uint8) error
	// InitAddress resets the write pointer of a region before programming.
	InitAddress(r jedec.Region) error
	// BeginRead resets the read pointer of a region before ReadPage calls.
	BeginRead(r jedec.Region) error
	WritePage(row []byte) error
	ReadPage() ([]byte, error)

	ReadUsercode() (uint32, error)
	WriteUsercode(v uint32) error
	ProgramDone() error
	Disable() error
}

func initOpcode(r jedec.Region) (byte, error) {
	switch r {
	case jedec.RegionConfig:
		return OpInitAddress, nil
	case jedec.RegionUFM:
		return OpInitAddressUFM, nil
	}
	return 0, fmt.Errorf("lattice: region %s has no address init", r)
}

// NewPort returns the port for the session's open transport. wide selects
// the LCMXO3D JTAG operands.
func NewPort(s *cpld.Session, wide bool) (Port, error) {
	switch s.Interface {
	case cpld.InterfaceJTAG:
		if s.JTAG == nil {
			return nil, &cpld.TransportError{Op: "jtag port", Err: errors.New("driver not open")}
		}
		return &jtagPort{s: s, d: s.JTAG, wide: wide}, nil
	case cpld.InterfaceI2C:
		if s.Bus == nil {
			return nil, &cpld.TransportError{Op: "i2c port", Err: errors.New("bus not open")}
		}
		return &i2cPort{s: s}, nil
	}
	return nil, fmt.Errorf("lattice: interface %s: %w", s.Interface, cpld.ErrUnsupported)
}
