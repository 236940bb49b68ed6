// Package sim holds behavioural models of the supported CPLDs. A model
// answers the real command set on an I2C bus, and Lattice models also
// answer JTAG scans, so whole programming sessions run in-process.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
)

// Lattice configuration opcodes as the part decodes them.
const (
	lscIDCode       = 0xE0
	lscCheckBusy    = 0xF0
	lscReadStatus   = 0x3C
	iscEnableX      = 0x74
	iscErase        = 0x0E
	lscInitAddr     = 0x46
	lscInitAddrUFM  = 0x47
	lscProgIncrNV   = 0x70
	iscProgUsercode = 0xC2
	usercodeRead    = 0xC0
	lscReadIncrNV   = 0x73
	iscProgramDone  = 0x5E
	lscRefresh      = 0x79
	iscDisable      = 0x26
	bypass          = 0xFF
	ufmIdentity     = 0xCA
	versionRead     = 0x00
)

const (
	rowBytes       = 16
	managementAddr = 0x11
)

// ErrNACK is returned for transfers nobody on the bus acknowledges.
var ErrNACK = errors.New("sim: no acknowledge")

// LatticeFaults make the model misbehave.
type LatticeFaults struct {
	StuckBusy   bool // the busy flag never clears
	StatusError bool // the status field reports a failure
	// FlipRow, when >= 0, corrupts one bit of that CF row on read-back.
	FlipRow int
}

// Lattice models a MachXO2/MachXO3 configuration engine.
type Lattice struct {
	mu sync.Mutex

	Addr     uint16 // I2C slave address
	IDCode   uint32
	Identity []byte // UFM identity sector answered to 0xCA, 16 bytes
	Version  byte   // management-address version byte
	Faults   LatticeFaults

	cf, ufm  [][]byte
	usercode uint32

	enabled  bool
	done     bool
	refresh  int
	region   int // 0 CF, 1 UFM
	ptr      int
	busyLeft int
	reads    int

	// JTAG side
	ir byte
}

// LatticeConfig sizes a model.
type LatticeConfig struct {
	Addr     uint16
	IDCode   uint32
	Identity []byte
	Version  byte
	CFRows   int
	UFMRows  int
}

// NewLattice returns an erased part.
func NewLattice(c LatticeConfig) *Lattice {
	m := &Lattice{
		Addr:     c.Addr,
		IDCode:   c.IDCode,
		Identity: c.Identity,
		Version:  c.Version,
		Faults:   LatticeFaults{FlipRow: -1},
		cf:       make([][]byte, c.CFRows),
		ufm:      make([][]byte, c.UFMRows),
	}
	m.eraseRows(m.cf)
	m.eraseRows(m.ufm)
	return m
}

func (m *Lattice) eraseRows(rows [][]byte) {
	for i := range rows {
		rows[i] = make([]byte, rowBytes)
	}
}

// Config returns a copy of the CF array.
func (m *Lattice) Config() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.cf)
}

// UFM returns a copy of the UFM array.
func (m *Lattice) UFM() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.ufm)
}

// Usercode returns the programmed usercode.
func (m *Lattice) Usercode() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usercode
}

// Done reports whether DONE was set since the last erase.
func (m *Lattice) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Enabled reports whether the part is in transparent mode.
func (m *Lattice) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Refreshes counts REFRESH commands.
func (m *Lattice) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh
}

// SetFaults replaces the fault set.
func (m *Lattice) SetFaults(f LatticeFaults) {
	m.mu.Lock()
	m.Faults = f
	m.mu.Unlock()
}

func cloneRows(rows [][]byte) [][]byte {
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Each array operation keeps the part busy for one poll.
func (m *Lattice) startBusy() { m.busyLeft = 1 }

func (m *Lattice) busy() bool {
	if m.Faults.StuckBusy {
		return true
	}
	if m.busyLeft > 0 {
		m.busyLeft--
		return true
	}
	return false
}

func (m *Lattice) status() uint32 {
	var st uint32
	if m.Faults.StatusError {
		st = 0x2
	}
	return st << 12
}

func (m *Lattice) enable(operand byte) {
	if operand == 0x08 {
		m.enabled = true
	}
}

func (m *Lattice) erase(cf, ufm bool) {
	if !m.enabled {
		return
	}
	if cf {
		m.eraseRows(m.cf)
		m.usercode = 0
		m.done = false
	}
	if ufm {
		m.eraseRows(m.ufm)
	}
	m.startBusy()
}

func (m *Lattice) initAddress(region int) {
	m.region = region
	m.ptr = 0
}

func (m *Lattice) rows() [][]byte {
	if m.region == 1 {
		return m.ufm
	}
	return m.cf
}

func (m *Lattice) writePage(row []byte) {
	rows := m.rows()
	if !m.enabled || m.ptr >= len(rows) {
		m.ptr++
		return
	}
	copy(rows[m.ptr], row)
	m.ptr++
	m.startBusy()
}

func (m *Lattice) readPage() []byte {
	rows := m.rows()
	out := make([]byte, rowBytes)
	if m.enabled && m.ptr < len(rows) {
		copy(out, rows[m.ptr])
		if m.region == 0 && m.ptr == m.Faults.FlipRow {
			out[0] ^= 0x01
		}
	}
	m.ptr++
	m.reads++
	return out
}

func (m *Lattice) programUsercode(v uint32) {
	if m.enabled {
		m.usercode = v
	}
}

func (m *Lattice) programDone() {
	if m.enabled {
		m.done = true
		m.startBusy()
	}
}

func (m *Lattice) disable() { m.enabled = false }

// I2C side.

func (m *Lattice) String() string { return fmt.Sprintf("sim-lattice@0x%02X", m.Addr) }

func (m *Lattice) SetSpeed(physic.Frequency) error { return nil }

// Tx decodes one combined transfer.
func (m *Lattice) Tx(addr uint16, w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr == managementAddr && addr != m.Addr {
		if len(w) == 1 && w[0] == versionRead && len(r) >= 2 {
			r[0], r[1] = 0, m.Version
			return nil
		}
		return ErrNACK
	}
	if addr != m.Addr {
		return ErrNACK
	}
	if len(w) == 0 {
		return fmt.Errorf("sim: read without command")
	}
	clear(r)
	switch w[0] {
	case lscIDCode:
		putBE(r, m.IDCode)
	case lscCheckBusy:
		if len(r) > 0 && m.busy() {
			r[0] = 0x80
		}
	case lscReadStatus:
		putBE(r, m.status())
	case iscEnableX:
		if len(w) > 1 {
			m.enable(w[1])
		}
	case iscErase:
		if len(w) > 1 {
			m.erase(w[1]&0x04 != 0, w[1]&0x08 != 0)
		}
	case lscInitAddr:
		m.initAddress(0)
	case lscInitAddrUFM:
		m.initAddress(1)
	case lscProgIncrNV:
		if len(w) != 4+rowBytes {
			return fmt.Errorf("sim: program page with %d bytes", len(w))
		}
		row := append([]byte(nil), w[4:]...)
		codec.ReverseBitsInBytes(row)
		m.writePage(row)
	case lscReadIncrNV:
		row := m.readPage()
		codec.ReverseBitsInBytes(row)
		copy(r, row)
	case iscProgUsercode:
		if len(w) != 8 {
			return fmt.Errorf("sim: usercode with %d bytes", len(w))
		}
		m.programUsercode(codec.BytesToU32BE([4]byte(w[4:8])))
	case usercodeRead:
		putBE(r, m.usercode)
	case iscProgramDone:
		m.programDone()
	case lscRefresh:
		m.refresh++
	case iscDisable:
		m.disable()
	case bypass:
	case ufmIdentity:
		if m.Identity == nil {
			return fmt.Errorf("sim: unknown command 0x%02X", w[0])
		}
		copy(r, m.Identity)
	default:
		return fmt.Errorf("sim: unknown command 0x%02X", w[0])
	}
	return nil
}

func putBE(r []byte, v uint32) {
	b := codec.U32ToBytesBE(v)
	copy(r, b[:])
}

// JTAG side: the model is a jtag.ScanHandler with an 8-bit IR.

// CaptureIR returns the IEEE 1149.1 capture pattern.
func (m *Lattice) CaptureIR() []byte { return []byte{0x01} }

func (m *Lattice) UpdateIR(tdi []byte, bits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(tdi) == 0 {
		return
	}
	m.ir = tdi[0]
	switch m.ir {
	case lscInitAddr:
		m.initAddress(0)
	case lscInitAddrUFM:
		m.initAddress(1)
	case iscProgramDone:
		m.programDone()
	case lscRefresh:
		m.refresh++
	case iscDisable:
		m.disable()
	}
}

func (m *Lattice) CaptureDR() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.ir {
	case lscIDCode:
		return le(m.IDCode)
	case lscCheckBusy:
		if m.busy() {
			return []byte{0x80}
		}
		return []byte{0}
	case lscReadStatus:
		return le(m.status())
	case usercodeRead:
		return le(m.usercode)
	case lscReadIncrNV:
		return m.readPage()
	}
	return nil
}

func (m *Lattice) UpdateDR(tdi []byte, bits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(tdi) == 0 {
		return
	}
	switch m.ir {
	case iscEnableX:
		m.enable(tdi[0])
	case iscErase:
		if bits == 24 {
			m.erase(true, false)
		} else {
			m.erase(tdi[0]&0x04 != 0, tdi[0]&0x08 != 0)
		}
	case lscProgIncrNV:
		if bits == rowBytes*8 {
			m.writePage(tdi[:rowBytes])
		}
	case iscProgUsercode:
		if bits == 32 {
			m.programUsercode(binary.LittleEndian.Uint32(tdi))
		}
	}
}

// Reset is Test-Logic-Reset: IDCODE becomes the selected instruction.
func (m *Lattice) Reset() {
	m.mu.Lock()
	m.ir = lscIDCode
	m.mu.Unlock()
}

func (m *Lattice) Idle() {}

func le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
