package lattice_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/cpldupdate/internal/sim"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld/lattice"
)

type rig struct {
	s     *cpld.Session
	board *sim.Board
	part  *sim.Lattice
	naps  []time.Duration
}

func newRig(t *testing.T, part string, intf cpld.Interface) *rig {
	t.Helper()
	b, err := sim.NewBoard(part)
	if err != nil {
		t.Fatal(err)
	}
	r := &rig{board: b, part: b.I2C.(*sim.Lattice)}
	r.s = cpld.NewSession(intf, cpld.Params{Bus: 1, Slave: sim.DefaultAddr}, b, logr.Discard())
	r.s.Sleep = func(d time.Duration) { r.naps = append(r.naps, d) }
	return r
}

func (r *rig) open(t *testing.T, d cpld.Device) {
	t.Helper()
	if err := d.Open(r.s); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close(r.s) })
}

var image = sim.JEDECFile{
	Config:    sim.Pattern(8, 0x11),
	UFM:       sim.Pattern(2, 0x22),
	EndConfig: sim.Pattern(1, 0x33),
	Usercode:  0x00010203,
}

func TestProgramSameArrayOnBothTransports(t *testing.T) {
	var arrays [][][]byte
	for _, intf := range []cpld.Interface{cpld.InterfaceI2C, cpld.InterfaceJTAG} {
		t.Run(intf.String(), func(t *testing.T) {
			r := newRig(t, "lcmxo3lf-4300", intf)
			r.open(t, lattice.LCMXO3LF4300)
			if err := lattice.LCMXO3LF4300.Program(r.s, bytes.NewReader(image.Bytes()), "", false); err != nil {
				t.Fatalf("Program: %v", err)
			}
			cf := r.part.Config()
			if diff := cmp.Diff(image.Config, cf[:len(image.Config)]); diff != "" {
				t.Errorf("CF (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(image.UFM, r.part.UFM()[:len(image.UFM)]); diff != "" {
				t.Errorf("UFM (-want +got):\n%s", diff)
			}
			if r.part.Usercode() != image.Usercode {
				t.Errorf("usercode = %08X, want %08X", r.part.Usercode(), image.Usercode)
			}
			if !r.part.Done() || r.part.Enabled() {
				t.Errorf("done=%v enabled=%v after exit", r.part.Done(), r.part.Enabled())
			}
			arrays = append(arrays, cf)
		})
	}
	if len(arrays) == 2 {
		if diff := cmp.Diff(arrays[0], arrays[1]); diff != "" {
			t.Errorf("CF differs (-i2c +jtag):\n%s", diff)
		}
	}
}

func TestProgramI2CRefreshesOnExit(t *testing.T) {
	r := newRig(t, "lcmxo3lf-9400", cpld.InterfaceI2C)
	r.open(t, lattice.LCMXO3LF9400)
	if err := lattice.LCMXO3LF9400.Program(r.s, bytes.NewReader(image.Bytes()), "", false); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if r.part.Refreshes() != 1 {
		t.Errorf("refreshes = %d, want 1", r.part.Refreshes())
	}
	var sawRefreshWait bool
	for _, d := range r.naps {
		if d == time.Second {
			sawRefreshWait = true
		}
	}
	if !sawRefreshWait {
		t.Error("no 1s wait after REFRESH")
	}
}

func TestProgramLCMXO3DOverJTAG(t *testing.T) {
	cfOnly := sim.JEDECFile{Config: sim.Pattern(4, 0x44), Usercode: 0xA5A5A5A5}
	r := newRig(t, "lcmxo3d-9400", cpld.InterfaceJTAG)
	r.open(t, lattice.LCMXO3D9400)
	if err := lattice.LCMXO3D9400.Program(r.s, bytes.NewReader(cfOnly.Bytes()), "", false); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if diff := cmp.Diff(cfOnly.Config, r.part.Config()[:4]); diff != "" {
		t.Errorf("CF (-want +got):\n%s", diff)
	}
	c, err := lattice.LCMXO3D9400.Checksum(r.s, bytes.NewReader(cfOnly.Bytes()))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if !c.Match() {
		t.Errorf("checksum file %04X device %04X", c.File, c.Device)
	}
}

func TestProgramStuckBusyTimesOut(t *testing.T) {
	r := newRig(t, "lcmxo3lf-4300", cpld.InterfaceI2C)
	r.s.Poller = cpld.Poller{Attempts: 5, Interval: time.Millisecond}
	r.open(t, lattice.LCMXO3LF4300)
	r.part.SetFaults(sim.LatticeFaults{StuckBusy: true, FlipRow: -1})

	err := lattice.LCMXO3LF4300.Program(r.s, bytes.NewReader(image.Bytes()), "", false)
	if !errors.Is(err, cpld.ErrTimeout) {
		t.Fatalf("Program = %v, want ErrTimeout", err)
	}
	var te *cpld.TimeoutError
	if !errors.As(err, &te) || te.Attempts != 5 {
		t.Errorf("timeout = %#v", te)
	}
	// The sequence stops where it failed; the part stays in transparent mode.
	if !r.part.Enabled() {
		t.Error("part left transparent mode after a timeout")
	}
}

func TestPollWaitsOncePerAttempt(t *testing.T) {
	for _, intf := range []cpld.Interface{cpld.InterfaceI2C, cpld.InterfaceJTAG} {
		t.Run(intf.String(), func(t *testing.T) {
			r := newRig(t, "lcmxo3lf-4300", intf)
			r.s.Poller = cpld.Poller{Attempts: 5, Interval: 3 * time.Millisecond}
			r.open(t, lattice.LCMXO3LF4300)
			r.part.SetFaults(sim.LatticeFaults{StuckBusy: true, FlipRow: -1})

			if err := lattice.LCMXO3LF4300.Erase(r.s); !errors.Is(err, cpld.ErrTimeout) {
				t.Fatalf("Erase = %v, want ErrTimeout", err)
			}
			want := []time.Duration{3 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond}
			if diff := cmp.Diff(want, r.naps); diff != "" {
				t.Errorf("sleeps (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProgramVerifyMismatch(t *testing.T) {
	r := newRig(t, "lcmxo3lf-4300", cpld.InterfaceJTAG)
	r.open(t, lattice.LCMXO3LF4300)
	r.part.SetFaults(sim.LatticeFaults{FlipRow: 3})

	err := lattice.LCMXO3LF4300.Program(r.s, bytes.NewReader(image.Bytes()), "", false)
	var ve *cpld.VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("Program = %v, want *VerifyError", err)
	}
	if ve.Row != 3 || ve.Region != "cf" {
		t.Errorf("mismatch at %s row %d, want cf row 3", ve.Region, ve.Row)
	}
	if !errors.Is(err, cpld.ErrVerifyMismatch) {
		t.Error("VerifyError does not match ErrVerifyMismatch")
	}
}

func TestChecksumAfterProgram(t *testing.T) {
	r := newRig(t, "lcmxo3lf-4300", cpld.InterfaceI2C)
	r.open(t, lattice.LCMXO3LF4300)
	dev := lattice.LCMXO3LF4300

	c, err := dev.Checksum(r.s, bytes.NewReader(image.Bytes()))
	if err != nil {
		t.Fatalf("Checksum before program: %v", err)
	}
	if c.Match() {
		t.Error("erased part matches the image")
	}
	if !errors.Is(c.Compare(), cpld.ErrChecksumMismatch) {
		t.Errorf("Compare = %v", c.Compare())
	}

	if err := dev.Program(r.s, bytes.NewReader(image.Bytes()), "", false); err != nil {
		t.Fatalf("Program: %v", err)
	}
	c, err = dev.Checksum(r.s, bytes.NewReader(image.Bytes()))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if c.File != uint32(image.Checksum()) || !c.Match() {
		t.Errorf("checksum file %04X device %04X, want %04X", c.File, c.Device, image.Checksum())
	}
}

func TestEraseAndVerify(t *testing.T) {
	r := newRig(t, "lcmxo3lf-4300", cpld.InterfaceI2C)
	r.open(t, lattice.LCMXO3LF4300)
	dev := lattice.LCMXO3LF4300

	if err := dev.Program(r.s, bytes.NewReader(image.Bytes()), "", false); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if err := dev.Verify(r.s, bytes.NewReader(image.Bytes())); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := dev.Erase(r.s); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if r.part.Usercode() != 0 || r.part.UFM()[0][0] != 0 {
		t.Error("erase left data behind")
	}
	if err := dev.Verify(r.s, bytes.NewReader(image.Bytes())); !errors.Is(err, cpld.ErrVerifyMismatch) {
		t.Errorf("Verify after erase = %v", err)
	}
}

func TestVersionAndDeviceID(t *testing.T) {
	for _, intf := range []cpld.Interface{cpld.InterfaceI2C, cpld.InterfaceJTAG} {
		t.Run(intf.String(), func(t *testing.T) {
			r := newRig(t, "lcmxo3lf-9400", intf)
			dev := lattice.LCMXO3LF9400
			r.open(t, dev)

			id, err := dev.DeviceID(r.s)
			if err != nil {
				t.Fatalf("DeviceID: %v", err)
			}
			if !dev.Descriptor().Matches(id) {
				t.Errorf("DeviceID = %s, want %s", cpld.FormatID(id), cpld.FormatID(dev.Descriptor().ID))
			}
			if err := dev.Program(r.s, bytes.NewReader(image.Bytes()), "", false); err != nil {
				t.Fatalf("Program: %v", err)
			}
			v, err := dev.Version(r.s)
			if err != nil {
				t.Fatalf("Version: %v", err)
			}
			if v != image.Usercode {
				t.Errorf("Version = %08X, want %08X", v, image.Usercode)
			}
		})
	}
}

func TestBadImageRejectedBeforeTouchingPart(t *testing.T) {
	r := newRig(t, "lcmxo3lf-4300", cpld.InterfaceI2C)
	r.open(t, lattice.LCMXO3LF4300)
	declared := fmt.Sprintf("C%04X*", image.Checksum())
	bad := strings.Replace(image.String(), declared, fmt.Sprintf("C%04X*", image.Checksum()+1), 1)
	if err := lattice.LCMXO3LF4300.Program(r.s, strings.NewReader(bad), "", false); !errors.Is(err, cpld.ErrChecksumMismatch) {
		t.Fatalf("Program = %v, want ErrChecksumMismatch", err)
	}
	if r.part.Enabled() {
		t.Error("part entered transparent mode for a bad image")
	}
}

func TestOperationsNeedOpenTransport(t *testing.T) {
	r := newRig(t, "lcmxo3lf-4300", cpld.InterfaceI2C)
	if _, err := lattice.LCMXO3LF4300.DeviceID(r.s); !errors.Is(err, cpld.ErrTransport) {
		t.Errorf("DeviceID on closed session = %v, want ErrTransport", err)
	}
}

func TestYZBB(t *testing.T) {
	r := newRig(t, "yzbb", cpld.InterfaceI2C)
	y := lattice.NewYZBB(lattice.DefaultYZBBID)
	r.open(t, y)

	id, err := y.DeviceID(r.s)
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if !y.Descriptor().Matches(id) {
		t.Errorf("DeviceID = %q", id)
	}
	if r.part.Enabled() {
		t.Error("identity read left the part enabled")
	}
	v, err := y.Version(r.s)
	if err != nil || v != 1 {
		t.Errorf("Version = %d, %v", v, err)
	}
	if err := y.Program(r.s, bytes.NewReader(image.Bytes()), "", false); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if diff := cmp.Diff(image.Config, r.part.Config()[:len(image.Config)]); diff != "" {
		t.Errorf("CF (-want +got):\n%s", diff)
	}
}

func TestYZBBBadStatusStillDisables(t *testing.T) {
	r := newRig(t, "yzbb", cpld.InterfaceI2C)
	y := lattice.NewYZBB(lattice.DefaultYZBBID)
	r.open(t, y)
	r.part.SetFaults(sim.LatticeFaults{StatusError: true, FlipRow: -1})

	if id, err := y.DeviceID(r.s); err == nil {
		t.Fatalf("DeviceID = %q, want configuration status error", id)
	}
	if r.part.Enabled() {
		t.Error("failed identity read left the part enabled")
	}
}

func TestYZBBOverJTAGUnsupported(t *testing.T) {
	r := newRig(t, "yzbb", cpld.InterfaceJTAG)
	y := lattice.NewYZBB(lattice.DefaultYZBBID)
	r.open(t, y)
	if _, err := y.DeviceID(r.s); !errors.Is(err, cpld.ErrUnsupported) {
		t.Errorf("DeviceID = %v", err)
	}
	if _, err := y.Version(r.s); !errors.Is(err, cpld.ErrUnsupported) {
		t.Errorf("Version = %v", err)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"YZBB02856102", []byte("YZBB02856102"), false},
		{"59 5A", nil, true},
		{"595A4242303238353631303x", nil, true},
		{"595A4242303238353631303A", []byte("YZBB0285610:"), false},
		{"", nil, true},
	}
	for _, tt := range tests {
		got, err := lattice.ParseID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseID(%q) error = %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseID(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestEngineStateNames(t *testing.T) {
	if got := lattice.StateVerifying.String(); got != "Verifying" {
		t.Errorf("String() = %q", got)
	}
	if got := lattice.State(42).String(); got != "State(42)" {
		t.Errorf("String() = %q", got)
	}
}
