// Package anlogic drives Anlogic CPLDs through their I2C-to-SPI bridge. The
// firmware file is a raw flash image, programmed with SPI-NOR style
// sector-erase and page-program commands.
package anlogic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/OpenTraceLab/cpldupdate/internal/metrics"
	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
)

// Bridge commands.
const (
	cmdReadVersion = 0x00
	cmdConfigSPI   = 0x01
	cmdSPI         = 0x02
	cmdReadID      = 0xCA

	spiSelect = 0xF0 // SS4..SS1 high, mode 0

	spiWriteEnable  = 0x06
	spiSectorErase  = 0x20
	spiPageProgram  = 0x02
	spiRead         = 0x03
	spiWriteDisable = 0x04
)

const (
	PageSize   = 16
	SectorSize = 4096

	ManagementAddr = 0x11

	idLen      = 12
	idFrameLen = 16
	// Page program and read frames: command, SPI opcode, 3 address bytes,
	// 16 data bytes, trailing zero.
	frameLen     = 22
	readBackLen  = 20
	readBackSkip = 4
)

const (
	bridgeSettle  = 100 * time.Microsecond
	eraseSettle   = 300 * time.Millisecond
	programSettle = time.Millisecond
	readSettle    = time.Millisecond
)

// DefaultID is the identity current Anlogic boards report.
var DefaultID = make([]byte, idLen)

// Device is the Anlogic family driver. It speaks I2C only; every JTAG
// operation, standalone erase and standalone verify report
// cpld.ErrUnsupported.
type Device struct {
	cpld.Unimplemented
	desc cpld.Descriptor
}

// New returns the driver expecting id from the identity read.
func New(id []byte) *Device {
	return &Device{desc: cpld.Descriptor{Name: "ANLOGIC-Family", Family: cpld.FamilyAnlogic, ID: id}}
}

func (d *Device) Descriptor() cpld.Descriptor { return d.desc }

func (d *Device) Open(s *cpld.Session) error { return s.OpenTransport() }

func (d *Device) Close(s *cpld.Session) error { return s.CloseTransport() }

func requireI2C(s *cpld.Session, op string) error {
	if s.Interface != cpld.InterfaceI2C {
		return fmt.Errorf("anlogic: %s over %s: %w", op, s.Interface, cpld.ErrUnsupported)
	}
	return nil
}

func (d *Device) log(s *cpld.Session) logr.Logger {
	return s.Log.WithName("anlogic").WithValues("device", d.desc.Name)
}

// Version reads the version byte from the management address.
func (d *Device) Version(s *cpld.Session) (uint32, error) {
	if err := requireI2C(s, "version"); err != nil {
		return 0, err
	}
	var r [2]byte
	if err := s.TxAddr(ManagementAddr, []byte{cmdReadVersion}, r[:]); err != nil {
		return 0, fmt.Errorf("anlogic: version: %w", err)
	}
	return uint32(r[1]), nil
}

// DeviceID returns bytes 1..12 of the identity frame.
func (d *Device) DeviceID(s *cpld.Session) ([]byte, error) {
	if err := requireI2C(s, "device id"); err != nil {
		return nil, err
	}
	r := make([]byte, idFrameLen)
	if err := s.Tx([]byte{cmdReadID, 0, 0, 0}, r); err != nil {
		return nil, fmt.Errorf("anlogic: device id: %w", err)
	}
	return append([]byte(nil), r[1:1+idLen]...), nil
}

func readImage(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("anlogic: read image: %w: %w", cpld.ErrFileIO, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("anlogic: empty image: %w", cpld.ErrFileIO)
	}
	return b, nil
}

// Checksum returns the byte sum of the file and the byte sum of the same
// span read back from flash, both masked to 16 bits.
func (d *Device) Checksum(s *cpld.Session, r io.ReadSeeker) (cpld.Checksum, error) {
	if err := requireI2C(s, "checksum"); err != nil {
		return cpld.Checksum{}, err
	}
	img, err := readImage(r)
	if err != nil {
		return cpld.Checksum{}, err
	}
	b := bridge{s: s, log: d.log(s)}
	if err := b.enter(); err != nil {
		return cpld.Checksum{}, err
	}
	flash, err := b.read(len(img))
	if err != nil {
		return cpld.Checksum{}, err
	}
	c := cpld.Checksum{
		File:   codec.ByteSum(img) & 0xFFFF,
		Device: codec.ByteSum(flash) & 0xFFFF,
	}
	if err := b.exit(); err != nil {
		return c, errors.Join(cpld.ErrExitProgramMode, err)
	}
	return c, nil
}

// Program erases the sectors the image spans, writes it page by page and
// reads it back before leaving the bridge.
func (d *Device) Program(s *cpld.Session, r io.ReadSeeker, key string, signed bool) error {
	if err := requireI2C(s, "program"); err != nil {
		return err
	}
	img, err := readImage(r)
	if err != nil {
		return err
	}
	b := bridge{s: s, log: d.log(s)}
	b.log.V(1).Info("image", "bytes", len(img))
	if err := b.enter(); err != nil {
		return err
	}
	if err := b.erase(len(img)); err != nil {
		return err
	}
	if err := b.program(img); err != nil {
		return err
	}
	if err := b.verify(img); err != nil {
		return err
	}
	if err := b.exit(); err != nil {
		return errors.Join(cpld.ErrExitProgramMode, err)
	}
	return nil
}

// bridge runs SPI flash commands through the I2C bridge.
type bridge struct {
	s   *cpld.Session
	log logr.Logger
}

func addr24(a int) []byte {
	return []byte{byte(a >> 16), byte(a >> 8), byte(a)}
}

func (b bridge) enter() error {
	if err := b.s.Tx([]byte{cmdConfigSPI, spiSelect}, nil); err != nil {
		return fmt.Errorf("anlogic: configure spi: %w", err)
	}
	b.s.Wait(bridgeSettle)
	return nil
}

func (b bridge) exit() error {
	if err := b.s.Tx([]byte{cmdSPI, spiWriteDisable, 0}, nil); err != nil {
		return fmt.Errorf("anlogic: write disable: %w", err)
	}
	b.s.Wait(bridgeSettle)
	return nil
}

func (b bridge) writeEnable() error {
	if err := b.s.Tx([]byte{cmdSPI, spiWriteEnable, 0}, nil); err != nil {
		return fmt.Errorf("anlogic: write enable: %w", err)
	}
	b.s.Wait(bridgeSettle)
	return nil
}

func blocks(n, size int) int { return (n + size - 1) / size }

func (b bridge) erase(n int) error {
	sectors := blocks(n, SectorSize)
	for i := 0; i < sectors; i++ {
		if err := b.writeEnable(); err != nil {
			return err
		}
		w := append([]byte{cmdSPI, spiSectorErase}, addr24(i*SectorSize)...)
		w = append(w, 0)
		if err := b.s.Tx(w, nil); err != nil {
			return fmt.Errorf("anlogic: erase sector %d: %w", i, err)
		}
		b.s.Wait(eraseSettle)
		b.s.Report(cpld.Progress{Phase: cpld.PhaseErase, Done: i + 1, Total: sectors})
	}
	return nil
}

// page returns page i of img, zero-padded when the image ends inside it.
func page(img []byte, i int) []byte {
	p := make([]byte, PageSize)
	start := i * PageSize
	end := start + PageSize
	if end > len(img) {
		end = len(img)
	}
	copy(p, img[start:end])
	return p
}

func (b bridge) program(img []byte) error {
	pages := blocks(len(img), PageSize)
	written := metrics.PagesWrittenTotal.WithLabelValues("flash")
	for i := 0; i < pages; i++ {
		if err := b.writeEnable(); err != nil {
			return err
		}
		w := make([]byte, 0, frameLen)
		w = append(w, cmdSPI, spiPageProgram)
		w = append(w, addr24(i*PageSize)...)
		w = append(w, page(img, i)...)
		w = append(w, 0)
		if err := b.s.Tx(w, nil); err != nil {
			return fmt.Errorf("anlogic: program page %d: %w", i, err)
		}
		b.s.Wait(programSettle)
		written.Inc()
		b.s.Report(cpld.Progress{Phase: cpld.PhaseProgram, Region: "flash", Done: i + 1, Total: pages})
	}
	return nil
}

// read returns n bytes of flash from address 0.
func (b bridge) read(n int) ([]byte, error) {
	pages := blocks(n, PageSize)
	out := make([]byte, 0, pages*PageSize)
	read := metrics.PagesReadTotal.WithLabelValues("flash")
	for i := 0; i < pages; i++ {
		w := make([]byte, frameLen)
		w[0], w[1] = cmdSPI, spiRead
		copy(w[2:5], addr24(i*PageSize))
		if err := b.s.Tx(w, nil); err != nil {
			return nil, fmt.Errorf("anlogic: read page %d: %w", i, err)
		}
		b.s.Wait(readSettle)
		r := make([]byte, readBackLen)
		if err := b.s.Tx(nil, r); err != nil {
			return nil, fmt.Errorf("anlogic: read page %d: %w", i, err)
		}
		out = append(out, r[readBackSkip:]...)
		read.Inc()
		b.s.Report(cpld.Progress{Phase: cpld.PhaseRead, Region: "flash", Done: i + 1, Total: pages})
	}
	return out[:n], nil
}

func (b bridge) verify(img []byte) error {
	flash, err := b.read(len(img))
	if err != nil {
		return err
	}
	for i := 0; i < len(img); i += PageSize {
		end := min(i+PageSize, len(img))
		if !bytes.Equal(flash[i:end], img[i:end]) {
			return &cpld.VerifyError{Region: "flash", Row: i / PageSize, Want: img[i:end], Got: flash[i:end]}
		}
	}
	return nil
}
