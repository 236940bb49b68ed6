//go:build linux

package jtag

import (
	"testing"
	"unsafe"

	"github.com/OpenTraceLab/cpldupdate/pkg/tap"
)

func TestKernelUAPILayout(t *testing.T) {
	if got := unsafe.Sizeof(jtagXfer{}); got != 16 {
		t.Fatalf("sizeof(jtag_xfer) = %d, want 16", got)
	}
	if got := unsafe.Sizeof(jtagTapState{}); got != 3 {
		t.Fatalf("sizeof(jtag_tap_state) = %d, want 3", got)
	}

	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"JTAG_SIOCSTATE", jtagSIOCSTATE, 0x4003b200},
		{"JTAG_SIOCFREQ", jtagSIOCFREQ, 0x4004b201},
		{"JTAG_GIOCFREQ", jtagGIOCFREQ, 0x8004b202},
		{"JTAG_IOCXFER", jtagIOCXFER, 0xc010b203},
		{"JTAG_SIOCMODE", jtagSIOCMODE, 0x4004b205},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = 0x%X, want 0x%X", tt.name, tt.got, tt.want)
		}
	}
}

func TestKernelEndState(t *testing.T) {
	if got := kernelEndState(tap.StateRunTestIdle); got != 0 {
		t.Errorf("RunTestIdle -> %d, want 0", got)
	}
	if got := kernelEndState(tap.StatePauseIR); got != uint8(tap.StatePauseIR) {
		t.Errorf("PauseIR -> %d", got)
	}
}

func TestKernelClosed(t *testing.T) {
	d := &KernelDriver{}
	if _, err := d.Frequency(); err == nil {
		t.Fatal("Frequency on closed driver succeeded")
	}
	if err := d.ShiftIR(tap.StateRunTestIdle, 40, 0); err == nil {
		t.Fatal("40-bit IR accepted")
	}
}

func TestKernelFrameUsesScratchBuffer(t *testing.T) {
	d := &KernelDriver{}

	x, buf := d.frame(xferSDR, xferRead, tap.StateRunTestIdle, 128)
	if len(buf) != 16 {
		t.Fatalf("len(buf) = %d, want 16", len(buf))
	}
	if x != d.x {
		t.Fatal("transfer descriptor is not the driver's")
	}
	if want := uint64(uintptr(unsafe.Pointer(&d.scratch[0]))); x.tdio != want {
		t.Fatalf("tdio = 0x%X, want scratch buffer 0x%X", x.tdio, want)
	}
	if x.length != 128 || x.typ != xferSDR || x.direction != xferRead || x.endstate != 0 {
		t.Errorf("xfer = %+v", *x)
	}
	for i := range buf {
		buf[i] = 0xAA
	}

	// A shorter frame reuses the same storage, cleared.
	x2, buf2 := d.frame(xferSIR, xferWrite, tap.StatePauseIR, 8)
	if x2.tdio != x.tdio {
		t.Errorf("8-bit frame tdio = 0x%X, want 0x%X", x2.tdio, x.tdio)
	}
	if len(buf2) != 1 || buf2[0] != 0 {
		t.Errorf("8-bit frame buffer = % X, want 00", buf2)
	}
	if x2.endstate != uint8(tap.StatePauseIR) || x2.length != 8 {
		t.Errorf("xfer = %+v", *x2)
	}

	// A longer frame moves to a larger buffer and tracks it.
	x3, _ := d.frame(xferSDR, xferWrite, tap.StateRunTestIdle, 256)
	if want := uint64(uintptr(unsafe.Pointer(&d.scratch[0]))); x3.tdio != want || cap(d.scratch) < 32 {
		t.Errorf("256-bit frame tdio = 0x%X, scratch 0x%X cap %d", x3.tdio, want, cap(d.scratch))
	}
}
