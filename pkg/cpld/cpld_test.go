package cpld

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/cpldupdate/pkg/jtag"
)

func TestPollBusyExhaustsExactAttempts(t *testing.T) {
	var calls, sleeps int
	p := DefaultPoller()
	err := p.Until(func(time.Duration) { sleeps++ }, "busy", func() (bool, error) {
		calls++
		return false, nil
	})
	var te *TimeoutError
	if !errors.As(err, &te) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("Until = %v, want TimeoutError", err)
	}
	if calls != 4000 || te.Attempts != 4000 {
		t.Fatalf("polled %d times (reported %d), want 4000", calls, te.Attempts)
	}
	if sleeps != 4000 {
		t.Errorf("slept %d times", sleeps)
	}
}

func TestPollStopsWhenClear(t *testing.T) {
	var calls int
	err := Poller{Attempts: 10, Interval: time.Millisecond}.Until(nil, "status", func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("Until = %v after %d calls", err, calls)
	}
}

func TestPollTransferError(t *testing.T) {
	want := errors.New("nack")
	var calls int
	err := DefaultPoller().Until(nil, "busy", func() (bool, error) {
		calls++
		return false, want
	})
	if !errors.Is(err, want) || calls != 1 {
		t.Fatalf("Until = %v after %d calls", err, calls)
	}
}

func TestUnimplemented(t *testing.T) {
	var u Unimplemented
	s := &Session{}
	_, verErr := u.Version(s)
	_, idErr := u.DeviceID(s)
	_, sumErr := u.Checksum(s, nil)
	checks := []error{
		u.Erase(s),
		u.Verify(s, nil),
		u.Program(s, nil, "", false),
		verErr,
		idErr,
		sumErr,
	}
	for i, err := range checks {
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("check %d: %v, want ErrUnsupported", i, err)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	nack := errors.New("nack")
	tests := []struct {
		err  error
		want error
	}{
		{&TransportError{Op: "tx", Err: nack}, ErrTransport},
		{&TransportError{Op: "tx", Err: nack}, nack},
		{&TimeoutError{Op: "busy", Attempts: 1}, ErrTimeout},
		{&VerifyError{Region: "cf", Row: 2}, ErrVerifyMismatch},
		{&ChecksumError{File: 1, Device: 2}, ErrChecksumMismatch},
		{fmt.Errorf("lattice: program: %w", &TimeoutError{Op: "status"}), ErrTimeout},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.want)
		}
	}
	if err := (Checksum{File: 5, Device: 5}).Compare(); err != nil {
		t.Errorf("equal checksums: %v", err)
	}
}

func TestDescriptorMatches(t *testing.T) {
	d := Descriptor{Name: "LCMXO3LF-4300", ID: IDCode(0x612BC043)}
	if !d.Matches([]byte{0x61, 0x2B, 0xC0, 0x43}) {
		t.Error("IDCODE bytes did not match")
	}
	if d.Matches(IDCode(0x612BE043)) {
		t.Error("different IDCODE matched")
	}
	if (Descriptor{}).Matches(nil) {
		t.Error("empty descriptor matched")
	}
	if got := FormatID(d.ID); got != "612BC043" {
		t.Errorf("FormatID = %q", got)
	}
	if got := FormatID([]byte("YZBB")[:3]); got != "595A42" {
		t.Errorf("FormatID = %q", got)
	}
}

func TestParseInterface(t *testing.T) {
	for _, s := range []string{"i2c", "JTAG"} {
		if _, err := ParseInterface(s); err != nil {
			t.Errorf("ParseInterface(%q): %v", s, err)
		}
	}
	if _, err := ParseInterface("spi"); err == nil {
		t.Error("spi accepted")
	}
}

type recordBus struct {
	addr   uint16
	closed bool
	err    error
}

func (b *recordBus) String() string                  { return "rec" }
func (b *recordBus) SetSpeed(physic.Frequency) error { return nil }
func (b *recordBus) Close() error                    { b.closed = true; return nil }
func (b *recordBus) Tx(addr uint16, w, r []byte) error {
	b.addr = addr
	return b.err
}

type fakeBuses struct{ bus *recordBus }

func (f fakeBuses) OpenI2C(int) (i2c.BusCloser, error) { return f.bus, nil }
func (f fakeBuses) OpenJTAG(int) (jtag.Driver, error)  { return nil, jtag.ErrNotImplemented }

func TestSessionTransport(t *testing.T) {
	bus := &recordBus{}
	s := NewSession(InterfaceI2C, Params{Bus: 7, Slave: 0x40}, fakeBuses{bus}, logr.Discard())
	if err := s.Tx(nil, nil); !errors.Is(err, ErrTransport) {
		t.Fatalf("Tx before open = %v", err)
	}
	if err := s.OpenTransport(); err != nil {
		t.Fatalf("OpenTransport: %v", err)
	}
	if err := s.Tx([]byte{0xE0}, nil); err != nil || bus.addr != 0x40 {
		t.Fatalf("Tx = %v to 0x%02X", err, bus.addr)
	}
	bus.err = errors.New("nack")
	if err := s.TxAddr(0x11, []byte{0}, nil); !errors.Is(err, ErrTransport) || bus.addr != 0x11 {
		t.Fatalf("TxAddr = %v to 0x%02X", err, bus.addr)
	}
	if err := s.CloseTransport(); err != nil || !bus.closed || s.Bus != nil {
		t.Fatalf("CloseTransport = %v", err)
	}

	j := NewSession(InterfaceJTAG, Params{}, fakeBuses{bus}, logr.Discard())
	if err := j.OpenTransport(); !errors.Is(err, ErrTransport) || !errors.Is(err, jtag.ErrNotImplemented) {
		t.Fatalf("OpenTransport jtag = %v", err)
	}
}

func TestProgressPercent(t *testing.T) {
	if got := (Progress{Done: 1, Total: 4}).Percent(); got != 25 {
		t.Errorf("Percent = %v", got)
	}
}
