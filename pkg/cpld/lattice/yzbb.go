package lattice

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
)

// YZBB parts answer version reads on a fixed management address and keep a
// 12-byte identity string in the UFM sector.
const (
	YZBBManagementAddr = 0x11
	yzbbReadVersion    = 0x00
	yzbbReadUFM        = 0xCA
	yzbbIDLen          = 12
	yzbbUFMLen         = 16
	yzbbEnableSettle   = 10 * time.Millisecond
	yzbbConfigFailBits = 0x00003000
)

// DefaultYZBBID is the identity string of current YZBB boards.
var DefaultYZBBID = []byte("YZBB02856102")

// YZBB programs like an LCMXO3 part but identifies itself differently.
type YZBB struct {
	Device
}

// NewYZBB returns the YZBB family driver expecting id from the UFM sector.
func NewYZBB(id []byte) *YZBB {
	return &YZBB{Device{desc: cpld.Descriptor{Name: "YZBB-Family", Family: cpld.FamilyYZBB, ID: id}}}
}

// ParseID accepts an identity as 12 ASCII characters or 24 hex digits.
func ParseID(s string) ([]byte, error) {
	switch len(s) {
	case yzbbIDLen:
		return []byte(s), nil
	case 2 * yzbbIDLen:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("lattice: device id %q: %w", s, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("lattice: device id %q: want %d characters or %d hex digits", s, yzbbIDLen, 2*yzbbIDLen)
}

// Version reads the version byte from the management address.
func (y *YZBB) Version(s *cpld.Session) (uint32, error) {
	if s.Interface != cpld.InterfaceI2C {
		return 0, fmt.Errorf("lattice: yzbb version over %s: %w", s.Interface, cpld.ErrUnsupported)
	}
	var r [2]byte
	if err := s.TxAddr(YZBBManagementAddr, []byte{yzbbReadVersion}, r[:]); err != nil {
		return 0, fmt.Errorf("lattice: yzbb version: %w", err)
	}
	return uint32(r[1]), nil
}

// DeviceID enables the configuration interface, reads the UFM identity
// sector, then disables and bypasses the part again. The disable and bypass
// frames go out on every path once the enable was sent.
func (y *YZBB) DeviceID(s *cpld.Session) (id []byte, err error) {
	if s.Interface != cpld.InterfaceI2C {
		return nil, fmt.Errorf("lattice: yzbb id over %s: %w", s.Interface, cpld.ErrUnsupported)
	}
	if err := s.Tx([]byte{OpEnableX, enableTransparent, 0}, nil); err != nil {
		return nil, fmt.Errorf("lattice: yzbb enable: %w", err)
	}
	defer func() {
		if lerr := yzbbLeave(s); lerr != nil {
			id, err = nil, errors.Join(err, lerr)
		}
	}()
	s.Wait(yzbbEnableSettle)

	var st [4]byte
	if err := s.Tx(cmd(OpReadStatus), st[:]); err != nil {
		return nil, fmt.Errorf("lattice: yzbb status: %w", err)
	}
	if v := codec.BytesToU32BE(st); v&yzbbConfigFailBits != 0 {
		return nil, fmt.Errorf("lattice: yzbb configuration status %08X", v)
	}
	if err := s.Tx(cmd(OpInitAddressUFM), nil); err != nil {
		return nil, fmt.Errorf("lattice: yzbb init ufm address: %w", err)
	}
	s.Wait(settle)

	ufm := make([]byte, yzbbUFMLen)
	if err := s.Tx(cmd(yzbbReadUFM), ufm); err != nil {
		return nil, fmt.Errorf("lattice: yzbb read ufm: %w", err)
	}
	id = append([]byte(nil), ufm[1:1+yzbbIDLen]...)
	s.Log.V(1).Info("yzbb id", "id", fmt.Sprintf("% X", id))
	return id, nil
}

// yzbbLeave sends both exit frames even if the first one fails.
func yzbbLeave(s *cpld.Session) error {
	var errs []error
	if err := s.Tx([]byte{OpDisable, 0, 0}, nil); err != nil {
		errs = append(errs, fmt.Errorf("lattice: yzbb disable: %w", err))
	}
	if err := s.Tx(cmd(OpBypass), nil); err != nil {
		errs = append(errs, fmt.Errorf("lattice: yzbb bypass: %w", err))
	}
	return errors.Join(errs...)
}
