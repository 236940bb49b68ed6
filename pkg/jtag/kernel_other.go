//go:build !linux

package jtag

import (
	"fmt"

	"github.com/OpenTraceLab/cpldupdate/pkg/tap"
)

// KernelPath returns the character device for JTAG master index.
func KernelPath(index int) string {
	return fmt.Sprintf("/dev/jtag%d", index)
}

// KernelDriver is only available on Linux.
type KernelDriver struct{}

// OpenKernel always fails outside Linux.
func OpenKernel(index int) (*KernelDriver, error) {
	return nil, fmt.Errorf("jtag: %s: %w", KernelPath(index), ErrNotImplemented)
}

func (*KernelDriver) Close() error { return ErrNotImplemented }
func (*KernelDriver) Frequency() (uint32, error) { return 0, ErrNotImplemented }
func (*KernelDriver) SetFrequency(uint32) error { return ErrNotImplemented }
func (*KernelDriver) RunTestIdle(bool, tap.State, uint8) error { return ErrNotImplemented }
func (*KernelDriver) ShiftIR(tap.State, int, uint32) error { return ErrNotImplemented }
func (*KernelDriver) ShiftDRIn(tap.State, int, []byte) error { return ErrNotImplemented }
func (*KernelDriver) ShiftDROut(tap.State, int) ([]byte, error) { return nil, ErrNotImplemented }
