package sim

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
	"github.com/OpenTraceLab/cpldupdate/pkg/jedec"
	"github.com/OpenTraceLab/cpldupdate/pkg/tap"
)

func newTestLattice() *Lattice {
	return NewLattice(LatticeConfig{Addr: DefaultAddr, IDCode: 0x612BC043, Version: 3, CFRows: 4, UFMRows: 2})
}

func TestLatticeI2CIdentity(t *testing.T) {
	m := newTestLattice()
	r := make([]byte, 4)
	if err := m.Tx(DefaultAddr, []byte{lscIDCode, 0, 0, 0}, r); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r, []byte{0x61, 0x2B, 0xC0, 0x43}) {
		t.Errorf("idcode = % X", r)
	}
	v := make([]byte, 2)
	if err := m.Tx(managementAddr, []byte{versionRead}, v); err != nil || v[1] != 3 {
		t.Errorf("version = % X, %v", v, err)
	}
	if err := m.Tx(0x22, []byte{lscIDCode}, r); !errors.Is(err, ErrNACK) {
		t.Errorf("foreign address: %v, want ErrNACK", err)
	}
	if err := m.Tx(DefaultAddr, []byte{ufmIdentity, 0, 0, 0}, make([]byte, 16)); err == nil {
		t.Error("identity read answered without an identity sector")
	}
}

func TestLatticeI2CProgramCycle(t *testing.T) {
	m := newTestLattice()
	tx := func(w []byte, r []byte) {
		t.Helper()
		if err := m.Tx(DefaultAddr, w, r); err != nil {
			t.Fatalf("Tx(% X): %v", w, err)
		}
	}
	busy := func() bool {
		r := make([]byte, 1)
		tx([]byte{lscCheckBusy, 0, 0, 0}, r)
		return r[0]&0x80 != 0
	}

	row := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	wire := append([]byte(nil), row...)
	codec.ReverseBitsInBytes(wire)

	// Writes before ISC_ENABLE_X are ignored.
	tx(append([]byte{lscProgIncrNV, 0, 0, 1}, wire...), nil)
	if m.Config()[0][0] != 0 {
		t.Fatal("write landed outside transparent mode")
	}

	tx([]byte{iscEnableX, 0x08, 0}, nil)
	tx([]byte{iscErase, 0x04, 0, 0}, nil)
	if !busy() || busy() {
		t.Error("erase should keep the part busy for exactly one poll")
	}
	tx([]byte{lscInitAddr, 0, 0, 0}, nil)
	tx(append([]byte{lscProgIncrNV, 0, 0, 1}, wire...), nil)
	tx([]byte{iscProgUsercode, 0, 0, 0, 0xCA, 0xFE, 0x00, 0x01}, nil)

	if diff := cmp.Diff(row, m.Config()[0]); diff != "" {
		t.Errorf("CF row 0 (-want +got):\n%s", diff)
	}
	if m.Usercode() != 0xCAFE0001 {
		t.Errorf("usercode = %08X", m.Usercode())
	}

	tx([]byte{lscInitAddr, 0, 0, 0}, nil)
	got := make([]byte, 16)
	tx([]byte{lscReadIncrNV, 0, 0, 1}, got)
	if !bytes.Equal(got, wire) {
		t.Errorf("read page = % X, want % X", got, wire)
	}

	tx([]byte{iscProgramDone, 0, 0, 0}, nil)
	tx([]byte{lscRefresh, 0, 0}, nil)
	tx([]byte{iscDisable, 0, 0, 0}, nil)
	if !m.Done() || m.Enabled() || m.Refreshes() != 1 {
		t.Errorf("done=%v enabled=%v refreshes=%d", m.Done(), m.Enabled(), m.Refreshes())
	}
}

func TestLatticeFaults(t *testing.T) {
	m := newTestLattice()
	m.SetFaults(LatticeFaults{StuckBusy: true, StatusError: true, FlipRow: 0})
	r := make([]byte, 4)
	for i := 0; i < 10; i++ {
		if err := m.Tx(DefaultAddr, []byte{lscCheckBusy, 0, 0, 0}, r[:1]); err != nil || r[0] != 0x80 {
			t.Fatalf("busy poll %d = %02X, %v", i, r[0], err)
		}
	}
	if err := m.Tx(DefaultAddr, []byte{lscReadStatus, 0, 0, 0}, r); err != nil {
		t.Fatal(err)
	}
	if st := codec.BytesToU32BE([4]byte(r)) >> 12 & 3; st != 2 {
		t.Errorf("status field = %d, want 2", st)
	}

	m.Tx(DefaultAddr, []byte{iscEnableX, 0x08, 0}, nil)
	m.Tx(DefaultAddr, []byte{lscInitAddr, 0, 0, 0}, nil)
	page := make([]byte, 16)
	m.Tx(DefaultAddr, []byte{lscReadIncrNV, 0, 0, 1}, page)
	codec.ReverseBitsInBytes(page)
	if page[0] != 0x01 {
		t.Errorf("flipped row byte 0 = %02X, want 01", page[0])
	}
}

func TestLatticeJTAGMatchesI2C(t *testing.T) {
	rows := Pattern(2, 0x10)

	viaI2C := newTestLattice()
	viaI2C.Tx(DefaultAddr, []byte{iscEnableX, 0x08, 0}, nil)
	viaI2C.Tx(DefaultAddr, []byte{lscInitAddr, 0, 0, 0}, nil)
	for _, r := range rows {
		w := append([]byte(nil), r...)
		codec.ReverseBitsInBytes(w)
		viaI2C.Tx(DefaultAddr, append([]byte{lscProgIncrNV, 0, 0, 1}, w...), nil)
	}

	viaJTAG := newTestLattice()
	viaJTAG.Reset()
	if id := viaJTAG.CaptureDR(); !bytes.Equal(id, []byte{0x43, 0xC0, 0x2B, 0x61}) {
		t.Fatalf("IDCODE after reset = % X", id)
	}
	viaJTAG.UpdateIR([]byte{iscEnableX}, 8)
	viaJTAG.UpdateDR([]byte{0x08}, 8)
	viaJTAG.UpdateIR([]byte{lscInitAddr}, 8)
	for _, r := range rows {
		viaJTAG.UpdateIR([]byte{lscProgIncrNV}, 8)
		viaJTAG.UpdateDR(r, jedec.RowBits)
	}
	viaJTAG.UpdateDR(nil, 0)

	if diff := cmp.Diff(viaI2C.Config(), viaJTAG.Config()); diff != "" {
		t.Errorf("CF differs between transports (-i2c +jtag):\n%s", diff)
	}
}

func TestAnlogicFlash(t *testing.T) {
	m := NewAnlogic(DefaultAddr, 2*anlSector)
	m.Identity = [12]byte{'A', 'N', 'L'}
	tx := func(w, r []byte) {
		t.Helper()
		if err := m.Tx(DefaultAddr, w, r); err != nil {
			t.Fatalf("Tx(% X): %v", w, err)
		}
	}
	data := bytes.Repeat([]byte{0x5A}, anlPage)
	prog := append(append([]byte{anlSPI, spiPageProg, 0, 0x10, 0x00}, data...), 0)

	// SPI commands before the bridge is configured are dropped.
	tx([]byte{anlSPI, spiWREN, 0}, nil)
	tx(prog, nil)
	if _, p := m.Counts(); p != 0 {
		t.Fatal("page programmed before the bridge was configured")
	}

	tx([]byte{anlCfgSPI, 0xF0}, nil)
	tx(prog, nil)
	if _, p := m.Counts(); p != 0 {
		t.Fatal("page programmed without write enable")
	}
	tx([]byte{anlSPI, spiWREN, 0}, nil)
	tx(prog, nil)

	read := make([]byte, 22)
	read[0], read[1], read[3] = anlSPI, spiRead, 0x10
	tx(read, nil)
	r := make([]byte, 20)
	tx(nil, r)
	if !bytes.Equal(r[4:], data) {
		t.Errorf("read back % X", r[4:])
	}

	tx([]byte{anlSPI, spiWREN, 0}, nil)
	tx([]byte{anlSPI, spiSectorErs, 0, 0x10, 0, 0}, nil)
	if f := m.Flash(); f[0x1000] != 0xFF {
		t.Errorf("sector erase left %02X", f[0x1000])
	}
	e, p := m.Counts()
	if e != 1 || p != 1 {
		t.Errorf("counts = %d erases, %d programs", e, p)
	}

	id := make([]byte, 16)
	tx([]byte{ufmIdentity, 0, 0, 0}, id)
	if string(id[1:4]) != "ANL" {
		t.Errorf("identity = % X", id)
	}
}

func TestNewBoard(t *testing.T) {
	for _, part := range Parts() {
		t.Run(part, func(t *testing.T) {
			b, err := NewBoard(part)
			if err != nil {
				t.Fatal(err)
			}
			bus, err := b.OpenI2C(1)
			if err != nil {
				t.Fatalf("OpenI2C: %v", err)
			}
			bus.Close()
			d, err := b.OpenJTAG(0)
			if part == "anlogic" {
				if err == nil {
					t.Fatal("anlogic board has a JTAG chain")
				}
			} else {
				if err != nil {
					t.Fatalf("OpenJTAG: %v", err)
				}
				if err := d.RunTestIdle(true, tap.StateRunTestIdle, 0); err != nil {
					t.Fatalf("RunTestIdle: %v", err)
				}
				d.Close()
			}
			opened, closed := b.Opens()
			if opened != closed {
				t.Errorf("opened %d, closed %d", opened, closed)
			}
		})
	}
	if _, err := NewBoard("lcmxo2-7000"); err == nil {
		t.Error("unknown part accepted")
	}
}

func TestJEDECFileParses(t *testing.T) {
	f := JEDECFile{Config: Pattern(3, 1), UFM: Pattern(1, 2), EndConfig: Pattern(1, 3), Usercode: 0x12345678}
	im, err := jedec.ParseBytes(f.Bytes())
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if im.ConfigLines() != 3 || im.UFMLines() != 1 || im.EndConfigLines() != 1 {
		t.Fatalf("lines = %d/%d/%d", im.ConfigLines(), im.UFMLines(), im.EndConfigLines())
	}
	if diff := cmp.Diff(f.Config[2], im.Row(jedec.RegionConfig, 2)); diff != "" {
		t.Errorf("row 2 (-want +got):\n%s", diff)
	}
	if im.Usercode != 0x12345678 || im.Checksum != f.Checksum() {
		t.Errorf("usercode %08X checksum %04X", im.Usercode, im.Checksum)
	}
}
