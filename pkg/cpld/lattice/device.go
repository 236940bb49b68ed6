package lattice

import (
	"errors"
	"fmt"
	"io"

	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
	"github.com/OpenTraceLab/cpldupdate/pkg/jedec"
)

// Device drives one MachXO2/MachXO3 part number.
type Device struct {
	desc cpld.Descriptor
	wide bool
}

var (
	LCMXO3LF9400 = &Device{desc: cpld.Descriptor{Name: "LCMXO3LF-9400", Family: cpld.FamilyLCMXO3, ID: cpld.IDCode(0x612BE043)}}
	LCMXO3LF4300 = &Device{desc: cpld.Descriptor{Name: "LCMXO3LF-4300", Family: cpld.FamilyLCMXO3, ID: cpld.IDCode(0x612BC043)}}
	LCMXO3D9400  = &Device{desc: cpld.Descriptor{Name: "LCMXO3D-9400", Family: cpld.FamilyLCMXO3D, ID: cpld.IDCode(0x212E3043)}, wide: true}
)

// Devices lists the parts identified by a 32-bit IDCODE, in scan order.
func Devices() []*Device {
	return []*Device{LCMXO3LF9400, LCMXO3LF4300, LCMXO3D9400}
}

func (d *Device) Descriptor() cpld.Descriptor { return d.desc }

func (d *Device) Open(s *cpld.Session) error { return s.OpenTransport() }

func (d *Device) Close(s *cpld.Session) error { return s.CloseTransport() }

func (d *Device) engine(s *cpld.Session) (*engine, error) {
	port, err := NewPort(s, d.wide)
	if err != nil {
		return nil, err
	}
	return newEngine(s, port, s.Log.WithName("lattice").WithValues("device", d.desc.Name)), nil
}

// DeviceID reads IDCODE_PUB and returns it big-endian.
func (d *Device) DeviceID(s *cpld.Session) ([]byte, error) {
	port, err := NewPort(s, d.wide)
	if err != nil {
		return nil, err
	}
	id, err := port.ReadID()
	if err != nil {
		return nil, fmt.Errorf("lattice: read id: %w", err)
	}
	s.Log.V(1).Info("device id", "idcode", fmt.Sprintf("%08X", id))
	return cpld.IDCode(id), nil
}

// Version reads the usercode from transparent mode. A failed exit is
// reported alongside the value.
func (d *Device) Version(s *cpld.Session) (uint32, error) {
	e, err := d.engine(s)
	if err != nil {
		return 0, err
	}
	if err := e.enter(); err != nil {
		return 0, err
	}
	v, err := e.port.ReadUsercode()
	if err != nil {
		return 0, fmt.Errorf("lattice: read usercode: %w", err)
	}
	if err := e.exit(); err != nil {
		return v, errors.Join(cpld.ErrExitProgramMode, err)
	}
	return v, nil
}

func parse(s *cpld.Session, r io.ReadSeeker) (*jedec.Image, error) {
	im, err := jedec.Parse(r, jedec.WithLogger(s.Log))
	if err != nil {
		return nil, err
	}
	s.Log.V(1).Info("parsed image",
		"cf", im.ConfigLines(), "ufm", im.UFMLines(), "endcf", im.EndConfigLines(),
		"usercode", fmt.Sprintf("%08X", im.Usercode), "checksum", fmt.Sprintf("%04X", im.Checksum))
	return im, nil
}

// Checksum parses the JEDEC file, then reads the programmed array back and
// sums it the way the parser sums the file.
func (d *Device) Checksum(s *cpld.Session, r io.ReadSeeker) (cpld.Checksum, error) {
	im, err := parse(s, r)
	if err != nil {
		return cpld.Checksum{}, err
	}
	e, err := d.engine(s)
	if err != nil {
		return cpld.Checksum{}, err
	}
	if err := e.enter(); err != nil {
		return cpld.Checksum{}, err
	}
	sum, err := e.deviceChecksum(im)
	if err != nil {
		return cpld.Checksum{}, err
	}
	c := cpld.Checksum{File: uint32(im.ComputedChecksum()), Device: sum}
	if err := e.exit(); err != nil {
		return c, errors.Join(cpld.ErrExitProgramMode, err)
	}
	return c, nil
}

// Erase clears CF and UFM.
func (d *Device) Erase(s *cpld.Session) error {
	e, err := d.engine(s)
	if err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	if err := e.erase(EraseConfigUFM); err != nil {
		return err
	}
	if err := e.exit(); err != nil {
		return errors.Join(cpld.ErrExitProgramMode, err)
	}
	return nil
}

// Program erases the part, writes the image, verifies CF and leaves
// configuration mode.
func (d *Device) Program(s *cpld.Session, r io.ReadSeeker, key string, signed bool) error {
	im, err := parse(s, r)
	if err != nil {
		return err
	}
	e, err := d.engine(s)
	if err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	mask := uint8(EraseConfig)
	if im.UFMLines() > 0 {
		mask = EraseConfigUFM
	}
	if err := e.erase(mask); err != nil {
		return err
	}
	if err := e.program(im); err != nil {
		return err
	}
	if err := e.verify(im); err != nil {
		return err
	}
	if err := e.exit(); err != nil {
		return errors.Join(cpld.ErrExitProgramMode, err)
	}
	return nil
}

// Verify compares the programmed CF array with the JEDEC file.
func (d *Device) Verify(s *cpld.Session, r io.ReadSeeker) error {
	im, err := parse(s, r)
	if err != nil {
		return err
	}
	e, err := d.engine(s)
	if err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	if err := e.verify(im); err != nil {
		return err
	}
	if err := e.exit(); err != nil {
		return errors.Join(cpld.ErrExitProgramMode, err)
	}
	return nil
}
