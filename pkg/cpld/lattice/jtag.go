package lattice

import (
	"encoding/binary"
	"time"

	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
	"github.com/OpenTraceLab/cpldupdate/pkg/jedec"
	"github.com/OpenTraceLab/cpldupdate/pkg/jtag"
	"github.com/OpenTraceLab/cpldupdate/pkg/tap"
)

const (
	irBits  = 8
	settle  = time.Millisecond
	idle    = tap.StateRunTestIdle
	pauseIR = tap.StatePauseIR
)

// jtagPort shifts 8-bit instructions followed by data scans. Every scan
// ends in Run-Test/Idle except the page-program instruction, which parks in
// Pause-IR until its 128-bit row follows.
type jtagPort struct {
	s    *cpld.Session
	d    jtag.Driver
	wide bool
}

func (p *jtagPort) ir(op byte, end tap.State) error {
	if err := p.d.ShiftIR(end, irBits, uint32(op)); err != nil {
		return &cpld.TransportError{Op: "jtag shift ir", Err: err}
	}
	return nil
}

func (p *jtagPort) drIn(bits int, tdi []byte) error {
	if err := p.d.ShiftDRIn(idle, bits, tdi); err != nil {
		return &cpld.TransportError{Op: "jtag shift dr", Err: err}
	}
	return nil
}

func (p *jtagPort) drOut(bits int) ([]byte, error) {
	b, err := p.d.ShiftDROut(idle, bits)
	if err != nil {
		return nil, &cpld.TransportError{Op: "jtag shift dr", Err: err}
	}
	return b, nil
}

func (p *jtagPort) drWord(bits int, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return p.drIn(bits, b[:(bits+7)/8])
}

func (p *jtagPort) readWord(op byte, bits int, wait bool) (uint32, error) {
	if err := p.ir(op, idle); err != nil {
		return 0, err
	}
	if wait && p.s.Poller.Interval > 0 {
		p.s.Wait(p.s.Poller.Interval)
	}
	b, err := p.drOut(bits)
	if err != nil {
		return 0, err
	}
	var w [4]byte
	copy(w[:], b)
	return binary.LittleEndian.Uint32(w[:]), nil
}

// pacesPolls marks that Busy and Status already wait one poll interval
// between the instruction and the read.
func (p *jtagPort) pacesPolls() {}

func (p *jtagPort) ReadID() (uint32, error) {
	return p.readWord(OpIDCodePub, 32, false)
}

func (p *jtagPort) Busy() (bool, error) {
	v, err := p.readWord(OpCheckBusy, 8, true)
	return v&busyBit != 0, err
}

func (p *jtagPort) Status() (uint32, error) {
	v, err := p.readWord(OpReadStatus, 32, true)
	return (v >> statusShift) & statusMask, err
}

func (p *jtagPort) Enable() error {
	if err := p.ir(OpEnableX, idle); err != nil {
		return err
	}
	return p.drWord(irBits, enableTransparent)
}

func (p *jtagPort) Erase(mask uint8) error {
	if err := p.ir(OpErase, idle); err != nil {
		return err
	}
	if p.wide {
		return p.drWord(wideOperandBits, wideOperand)
	}
	return p.drWord(irBits, uint32(mask))
}

func (p *jtagPort) InitAddress(r jedec.Region) error {
	op, err := initOpcode(r)
	if err != nil {
		return err
	}
	if err := p.ir(op, idle); err != nil {
		return err
	}
	if p.wide && r == jedec.RegionConfig {
		return p.drWord(wideOperandBits, wideOperand)
	}
	return nil
}

func (p *jtagPort) BeginRead(r jedec.Region) error {
	op, err := initOpcode(r)
	if err != nil {
		return err
	}
	if err := p.ir(op, idle); err != nil {
		return err
	}
	if p.wide && r == jedec.RegionConfig {
		err = p.drWord(wideOperandBits, wideOperand)
	} else {
		err = p.drWord(irBits, readOperand)
	}
	if err != nil {
		return err
	}
	p.s.Wait(settle)
	if err := p.ir(OpReadIncrNV, idle); err != nil {
		return err
	}
	p.s.Wait(settle)
	return nil
}

func (p *jtagPort) WritePage(row []byte) error {
	if err := p.ir(OpProgIncrNV, pauseIR); err != nil {
		return err
	}
	return p.drIn(jedec.RowBits, row)
}

func (p *jtagPort) ReadPage() ([]byte, error) {
	return p.drOut(jedec.RowBits)
}

func (p *jtagPort) ReadUsercode() (uint32, error) {
	return p.readWord(OpUsercode, 32, false)
}

func (p *jtagPort) WriteUsercode(v uint32) error {
	if err := p.ir(OpProgramUsercode, idle); err != nil {
		return err
	}
	return p.drWord(32, v)
}

func (p *jtagPort) ProgramDone() error { return p.ir(OpProgramDone, idle) }

func (p *jtagPort) Disable() error { return p.ir(OpDisable, idle) }
