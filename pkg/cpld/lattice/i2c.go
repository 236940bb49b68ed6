package lattice

import (
	"time"

	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
	"github.com/OpenTraceLab/cpldupdate/pkg/jedec"
)

// refreshSettle is the wait after REFRESH before the part accepts
// ISC_DISABLE.
const refreshSettle = time.Second

// i2cPort sends each verb as one combined transfer: opcode, three operand
// bytes, then any payload. Page payloads travel bit-reversed within each
// byte relative to the JTAG shift order.
type i2cPort struct {
	s *cpld.Session
}

func cmd(op byte, operands ...byte) []byte {
	b := []byte{op, 0, 0, 0}
	copy(b[1:], operands)
	return b
}

func (p *i2cPort) readWord(w []byte) (uint32, error) {
	var r [4]byte
	if err := p.s.Tx(w, r[:]); err != nil {
		return 0, err
	}
	return codec.BytesToU32BE(r), nil
}

func (p *i2cPort) ReadID() (uint32, error) {
	return p.readWord(cmd(OpIDCodePub))
}

func (p *i2cPort) Busy() (bool, error) {
	var r [1]byte
	if err := p.s.Tx(cmd(OpCheckBusy), r[:]); err != nil {
		return false, err
	}
	return r[0]&busyBit != 0, nil
}

func (p *i2cPort) Status() (uint32, error) {
	v, err := p.readWord(cmd(OpReadStatus))
	return (v >> statusShift) & statusMask, err
}

func (p *i2cPort) Enable() error {
	return p.s.Tx([]byte{OpEnableX, enableTransparent, 0}, nil)
}

func (p *i2cPort) Erase(mask uint8) error {
	return p.s.Tx(cmd(OpErase, mask), nil)
}

func (p *i2cPort) InitAddress(r jedec.Region) error {
	op, err := initOpcode(r)
	if err != nil {
		return err
	}
	return p.s.Tx(cmd(op), nil)
}

// BeginRead is the same address reset; each ReadPage carries its own read
// opcode.
func (p *i2cPort) BeginRead(r jedec.Region) error {
	return p.InitAddress(r)
}

func (p *i2cPort) WritePage(row []byte) error {
	w := make([]byte, 0, 4+jedec.RowBytes)
	w = append(w, cmd(OpProgIncrNV, 0, 0, 1)...)
	w = append(w, row...)
	codec.ReverseBitsInBytes(w[4:])
	return p.s.Tx(w, nil)
}

func (p *i2cPort) ReadPage() ([]byte, error) {
	r := make([]byte, jedec.RowBytes)
	if err := p.s.Tx(cmd(OpReadIncrNV, 0, 0, 1), r); err != nil {
		return nil, err
	}
	codec.ReverseBitsInBytes(r)
	return r, nil
}

func (p *i2cPort) ReadUsercode() (uint32, error) {
	return p.readWord(cmd(OpUsercode))
}

func (p *i2cPort) WriteUsercode(v uint32) error {
	be := codec.U32ToBytesBE(v)
	return p.s.Tx(append(cmd(OpProgramUsercode), be[:]...), nil)
}

func (p *i2cPort) ProgramDone() error {
	return p.s.Tx(cmd(OpProgramDone), nil)
}

// Disable refreshes the part so it boots the new image, then leaves
// configuration mode.
func (p *i2cPort) Disable() error {
	if err := p.s.Tx([]byte{OpRefresh, 0, 0}, nil); err != nil {
		return err
	}
	p.s.Wait(refreshSettle)
	return p.s.Tx(cmd(OpDisable), nil)
}
