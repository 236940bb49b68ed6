package cpld

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/cpldupdate/pkg/jedec"
)

var (
	ErrTransport        = errors.New("cpld: transport error")
	ErrTimeout          = errors.New("cpld: timeout")
	ErrChecksumMismatch = jedec.ErrChecksumMismatch
	ErrVerifyMismatch   = errors.New("cpld: verify mismatch")
	ErrUnknownDevice    = errors.New("cpld: unknown device")
	ErrUnsupported      = errors.New("cpld: operation not supported")
	ErrNoActiveDevice   = errors.New("cpld: no active device")
	ErrFileIO           = errors.New("cpld: file error")
	// ErrExitProgramMode wraps a failure to leave program mode after the
	// image was already written and verified.
	ErrExitProgramMode = errors.New("cpld: exit program mode failed")
)

// TransportError is a failed bus open or transfer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cpld: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// TimeoutError is a busy or status poll that never cleared.
type TimeoutError struct {
	Op       string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("cpld: %s poll timed out after %d attempts", e.Op, e.Attempts)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// VerifyError identifies the first row that read back differently.
type VerifyError struct {
	Region string
	Row    int
	Want   []byte
	Got    []byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("cpld: verify %s row %d: read % X, want % X", e.Region, e.Row, e.Got, e.Want)
}

func (e *VerifyError) Unwrap() error { return ErrVerifyMismatch }

// ChecksumError is a device checksum that disagrees with the file.
type ChecksumError struct {
	File   uint32
	Device uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("cpld: device checksum %04X does not match file checksum %04X", e.Device, e.File)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// Compare returns a ChecksumError when c does not match.
func (c Checksum) Compare() error {
	if c.Match() {
		return nil
	}
	return &ChecksumError{File: c.File, Device: c.Device}
}
