package sim

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// Anlogic bridge commands.
const (
	anlCfgSPI    = 0x01
	anlSPI       = 0x02
	spiWREN      = 0x06
	spiSectorErs = 0x20
	spiPageProg  = 0x02
	spiRead      = 0x03
	spiWRDI      = 0x04

	anlPage   = 16
	anlSector = 4096
)

// Anlogic models an Anlogic CPLD whose configuration flash sits behind an
// I2C-to-SPI bridge.
type Anlogic struct {
	mu sync.Mutex

	Addr     uint16
	Identity [12]byte
	Version  byte

	flash    []byte
	spiOn    bool
	wel      bool
	staged   []byte
	erases   int
	programs int
}

// NewAnlogic returns a part with size bytes of erased flash.
func NewAnlogic(addr uint16, size int) *Anlogic {
	m := &Anlogic{Addr: addr, flash: make([]byte, size)}
	for i := range m.flash {
		m.flash[i] = 0xFF
	}
	return m
}

// Flash returns a copy of the flash contents.
func (m *Anlogic) Flash() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.flash...)
}

// Corrupt overwrites one flash byte behind the programmer's back.
func (m *Anlogic) Corrupt(addr int, v byte) {
	m.mu.Lock()
	m.flash[addr] = v
	m.mu.Unlock()
}

// Counts returns the number of sector erases and page programs seen.
func (m *Anlogic) Counts() (erases, programs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.erases, m.programs
}

func (m *Anlogic) String() string { return fmt.Sprintf("sim-anlogic@0x%02X", m.Addr) }

func (m *Anlogic) SetSpeed(physic.Frequency) error { return nil }

func addr24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

// Tx decodes one combined transfer. Commands it does not know are
// acknowledged and ignored, as the bridge does.
func (m *Anlogic) Tx(addr uint16, w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(r)
	if addr == managementAddr && addr != m.Addr {
		if len(w) == 1 && w[0] == versionRead && len(r) >= 2 {
			r[1] = m.Version
			return nil
		}
		return ErrNACK
	}
	if addr != m.Addr {
		return ErrNACK
	}
	if len(w) == 0 {
		// Read-back of the page staged by the last read command.
		if len(r) >= 4 {
			copy(r[4:], m.staged)
		}
		return nil
	}
	switch w[0] {
	case ufmIdentity:
		if len(r) > 0 {
			copy(r[1:], m.Identity[:])
		}
	case anlCfgSPI:
		m.spiOn = len(w) > 1 && w[1] == 0xF0
	case anlSPI:
		if len(w) < 2 {
			return fmt.Errorf("sim: short spi command")
		}
		if !m.spiOn {
			return nil
		}
		return m.spi(w[1], w[2:])
	}
	return nil
}

func (m *Anlogic) spi(op byte, args []byte) error {
	switch op {
	case spiWREN:
		m.wel = true
	case spiWRDI:
		m.wel = false
	case spiSectorErs:
		if len(args) < 3 {
			return fmt.Errorf("sim: short sector erase")
		}
		if m.wel {
			base := addr24(args) &^ (anlSector - 1)
			for i := base; i < base+anlSector && i < len(m.flash); i++ {
				m.flash[i] = 0xFF
			}
			m.erases++
		}
		m.wel = false
	case spiPageProg:
		if len(args) < 3+anlPage {
			return fmt.Errorf("sim: short page program")
		}
		if m.wel {
			a := addr24(args)
			for i, b := range args[3 : 3+anlPage] {
				if a+i < len(m.flash) {
					m.flash[a+i] &= b
				}
			}
			m.programs++
		}
		m.wel = false
	case spiRead:
		if len(args) < 3 {
			return fmt.Errorf("sim: short read")
		}
		a := addr24(args)
		m.staged = make([]byte, anlPage)
		for i := range m.staged {
			if a+i < len(m.flash) {
				m.staged[i] = m.flash[a+i]
			}
		}
	}
	return nil
}
