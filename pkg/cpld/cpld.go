// Package cpld defines the operation contract shared by every CPLD family
// driver, the transport session the drivers run against, and the error
// taxonomy they report.
package cpld

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
)

// Interface selects the physical bus a session talks over.
type Interface uint8

const (
	InterfaceI2C Interface = iota
	InterfaceJTAG
)

func (i Interface) String() string {
	switch i {
	case InterfaceI2C:
		return "i2c"
	case InterfaceJTAG:
		return "jtag"
	default:
		return fmt.Sprintf("Interface(%d)", uint8(i))
	}
}

// ParseInterface accepts "i2c" or "jtag".
func ParseInterface(s string) (Interface, error) {
	switch strings.ToLower(s) {
	case "i2c":
		return InterfaceI2C, nil
	case "jtag":
		return InterfaceJTAG, nil
	}
	return 0, fmt.Errorf("cpld: unknown interface %q", s)
}

// Family is the closed set of supported device families.
type Family uint8

const (
	FamilyLCMXO3 Family = iota // LCMXO2 and LCMXO3LF parts
	FamilyLCMXO3D
	FamilyYZBB
	FamilyAnlogic
)

func (f Family) String() string {
	switch f {
	case FamilyLCMXO3:
		return "lcmxo3"
	case FamilyLCMXO3D:
		return "lcmxo3d"
	case FamilyYZBB:
		return "yzbb"
	case FamilyAnlogic:
		return "anlogic"
	default:
		return fmt.Sprintf("Family(%d)", uint8(f))
	}
}

// Descriptor identifies one supported part. ID holds the raw identity the
// part reports: a big-endian IDCODE for Lattice parts and the 12-byte UFM
// identity string for YZBB and Anlogic parts.
type Descriptor struct {
	Name   string
	Family Family
	ID     []byte
}

// IDCode builds a Descriptor ID from a 32-bit JTAG IDCODE.
func IDCode(v uint32) []byte {
	b := codec.U32ToBytesBE(v)
	return b[:]
}

// Matches reports whether id is the identity of d.
func (d Descriptor) Matches(id []byte) bool {
	return len(d.ID) > 0 && bytes.Equal(d.ID, id)
}

// FormatID renders a device identity for display: 4-byte IDs as a hex
// word, longer ones as spaced hex bytes.
func FormatID(id []byte) string {
	if len(id) == 4 {
		return fmt.Sprintf("%08X", codec.BytesToU32BE([4]byte(id)))
	}
	return strings.ToUpper(hex.EncodeToString(id))
}

// Checksum pairs the checksum computed from a firmware file with the one
// read back from the device.
type Checksum struct {
	File   uint32
	Device uint32
}

// Match reports whether the device content agrees with the file.
func (c Checksum) Match() bool { return c.File == c.Device }

// Device is the operation contract every family driver implements. Drivers
// are stateless; all per-connection state lives in the Session.
type Device interface {
	Descriptor() Descriptor

	Open(s *Session) error
	Close(s *Session) error

	Version(s *Session) (uint32, error)
	DeviceID(s *Session) ([]byte, error)
	Checksum(s *Session, r io.ReadSeeker) (Checksum, error)
	Erase(s *Session) error
	// Program writes the image in r. key and signed are accepted for
	// signed-image support and ignored by every current family.
	Program(s *Session, r io.ReadSeeker, key string, signed bool) error
	Verify(s *Session, r io.ReadSeeker) error
}

// Unimplemented can be embedded by drivers that leave operations out. Every
// method returns ErrUnsupported.
type Unimplemented struct{}

func (Unimplemented) Open(*Session) error  { return ErrUnsupported }
func (Unimplemented) Close(*Session) error { return ErrUnsupported }

func (Unimplemented) Version(*Session) (uint32, error) { return 0, ErrUnsupported }

func (Unimplemented) DeviceID(*Session) ([]byte, error) { return nil, ErrUnsupported }

func (Unimplemented) Checksum(*Session, io.ReadSeeker) (Checksum, error) {
	return Checksum{}, ErrUnsupported
}

func (Unimplemented) Erase(*Session) error { return ErrUnsupported }

func (Unimplemented) Program(*Session, io.ReadSeeker, string, bool) error { return ErrUnsupported }

func (Unimplemented) Verify(*Session, io.ReadSeeker) error { return ErrUnsupported }
