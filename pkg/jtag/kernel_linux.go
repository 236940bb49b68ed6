//go:build linux

package jtag

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/OpenTraceLab/cpldupdate/pkg/tap"
)

// ASPEED JTAG uapi (include/uapi/linux/jtag.h).
const (
	jtagIoctlMagic = 0xb2

	xferSIR = 0
	xferSDR = 1

	xferRead  = 1
	xferWrite = 2

	featureXferMode = 0
	modeHW          = 1
)

type jtagTapState struct {
	reset    uint8
	endstate uint8
	tck      uint8
}

type jtagXfer struct {
	typ       uint8
	direction uint8
	endstate  uint8
	padding   uint8
	length    uint32
	tdio      uint64
}

type jtagMode struct {
	feature uint32
	mode    uint32
}

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | jtagIoctlMagic<<8 | nr
}

const (
	iocWrite = 1
	iocRead  = 2
)

var (
	jtagSIOCSTATE = ioc(iocWrite, 0, unsafe.Sizeof(jtagTapState{}))
	jtagSIOCFREQ  = ioc(iocWrite, 1, 4)
	jtagGIOCFREQ  = ioc(iocRead, 2, 4)
	jtagIOCXFER   = ioc(iocRead|iocWrite, 3, unsafe.Sizeof(jtagXfer{}))
	jtagSIOCMODE  = ioc(iocWrite, 5, 4)
)

// KernelPath returns the character device for JTAG master index.
func KernelPath(index int) string {
	return fmt.Sprintf("/dev/jtag%d", index)
}

// KernelDriver drives the ASPEED JTAG master through /dev/jtagN.
//
// Transfers go through a driver-owned scratch buffer and xfer struct, both
// heap allocated, so the address handed to the kernel in tdio stays valid
// for the whole ioctl.
type KernelDriver struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	scratch []byte
	x       *jtagXfer
}

// OpenKernel opens /dev/jtag<index> and selects hardware transfer mode.
func OpenKernel(index int) (*KernelDriver, error) {
	path := KernelPath(index)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("jtag: open %s: %w", path, err)
	}
	d := &KernelDriver{f: f, path: path}
	m := jtagMode{feature: featureXferMode, mode: modeHW}
	if err := d.ioctl(jtagSIOCMODE, unsafe.Pointer(&m)); err != nil {
		f.Close()
		return nil, fmt.Errorf("jtag: %s: set hardware mode: %w", path, err)
	}
	return d, nil
}

func (d *KernelDriver) ioctl(req uintptr, arg unsafe.Pointer) error {
	if d.f == nil {
		return ErrClosed
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// kernelEndState maps a TAP state to the driver's end state encoding, where
// zero parks the TAP in Run-Test/Idle and any other value in the named state.
func kernelEndState(s tap.State) uint8 {
	if s == tap.StateRunTestIdle {
		return 0
	}
	return uint8(s)
}

func (d *KernelDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ErrClosed
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func (d *KernelDriver) Frequency() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var hz uint32
	if err := d.ioctl(jtagGIOCFREQ, unsafe.Pointer(&hz)); err != nil {
		return 0, fmt.Errorf("jtag: get frequency: %w", err)
	}
	return hz, nil
}

func (d *KernelDriver) SetFrequency(hz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ioctl(jtagSIOCFREQ, unsafe.Pointer(&hz)); err != nil {
		return fmt.Errorf("jtag: set frequency %d: %w", hz, err)
	}
	return nil
}

func (d *KernelDriver) RunTestIdle(reset bool, end tap.State, tck uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := jtagTapState{endstate: uint8(end), tck: tck}
	if reset {
		st.reset = 1
	}
	if err := d.ioctl(jtagSIOCSTATE, unsafe.Pointer(&st)); err != nil {
		return fmt.Errorf("jtag: run-test-idle: %w", err)
	}
	return nil
}

// frame sizes the scratch buffer for bits, zeroes it and points a fresh
// transfer descriptor at it. The caller must hold d.mu.
func (d *KernelDriver) frame(typ, dir uint8, end tap.State, bits int) (*jtagXfer, []byte) {
	n := byteLen(bits)
	if cap(d.scratch) < n {
		d.scratch = make([]byte, n)
	}
	buf := d.scratch[:n]
	clear(buf)
	if d.x == nil {
		d.x = new(jtagXfer)
	}
	*d.x = jtagXfer{
		typ:       typ,
		direction: dir,
		endstate:  kernelEndState(end),
		length:    uint32(bits),
		tdio:      uint64(uintptr(unsafe.Pointer(&buf[0]))),
	}
	return d.x, buf
}

func (d *KernelDriver) xfer(x *jtagXfer) error {
	err := d.ioctl(jtagIOCXFER, unsafe.Pointer(x))
	runtime.KeepAlive(d.scratch)
	return err
}

func (d *KernelDriver) ShiftIR(end tap.State, bits int, value uint32) error {
	if err := checkShift(end, bits, MaxIRBits); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	x, buf := d.frame(xferSIR, xferWrite, end, bits)
	for i := range buf {
		buf[i] = byte(value >> (8 * i))
	}
	if err := d.xfer(x); err != nil {
		return fmt.Errorf("jtag: sir 0x%X: %w", value, err)
	}
	return nil
}

func (d *KernelDriver) ShiftDRIn(end tap.State, bits int, tdi []byte) error {
	if err := checkShift(end, bits, 0); err != nil {
		return err
	}
	if len(tdi) < byteLen(bits) {
		return fmt.Errorf("%w: %d bits from %d bytes", ErrBadLength, bits, len(tdi))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// The driver may write back into tdio, so never hand it the caller's buffer.
	x, buf := d.frame(xferSDR, xferWrite, end, bits)
	copy(buf, tdi)
	if err := d.xfer(x); err != nil {
		return fmt.Errorf("jtag: sdr write %d bits: %w", bits, err)
	}
	return nil
}

func (d *KernelDriver) ShiftDROut(end tap.State, bits int) ([]byte, error) {
	if err := checkShift(end, bits, 0); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	x, buf := d.frame(xferSDR, xferRead, end, bits)
	if err := d.xfer(x); err != nil {
		return nil, fmt.Errorf("jtag: sdr read %d bits: %w", bits, err)
	}
	return append([]byte(nil), buf...), nil
}
