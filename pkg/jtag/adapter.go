package jtag

import (
	"fmt"
)

// AdapterInfo describes a probe.
type AdapterInfo struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	MinFrequency int // Hertz
	MaxFrequency int // Hertz
}

// Adapter is a bit-level JTAG probe: it clocks len(tms) bits of TMS/TDI and
// returns the TDO captured on each clock. Buffers are LSB-first.
//
// ShiftIR and ShiftDR differ only as a hint for probes that treat the two
// register domains differently; both clock exactly the TMS pattern given.
type Adapter interface {
	Info() (AdapterInfo, error)
	ShiftIR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ShiftDR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ResetTAP(hard bool) error
	SetSpeed(hz int) error
}

// ValidateShiftBuffers checks that tms and tdi hold bits bits and returns the
// number of bytes a buffer of bits bits needs.
func ValidateShiftBuffers(tms, tdi []byte, bits int) (int, error) {
	if bits <= 0 {
		return 0, fmt.Errorf("%w: %d bits", ErrBadLength, bits)
	}
	required := byteLen(bits)
	if len(tms) > 0 && len(tms) < required {
		return 0, fmt.Errorf("jtag: tms buffer too short, need %d bytes", required)
	}
	if len(tdi) > 0 && len(tdi) < required {
		return 0, fmt.Errorf("jtag: tdi buffer too short, need %d bytes", required)
	}
	return required, nil
}

func bitAt(buf []byte, i int) bool {
	if i/8 >= len(buf) {
		return false
	}
	return buf[i/8]&(1<<(uint(i)%8)) != 0
}

func setBit(buf []byte, i int, v bool) {
	if v {
		buf[i/8] |= 1 << (uint(i) % 8)
	} else {
		buf[i/8] &^= 1 << (uint(i) % 8)
	}
}

func boolsToBytes(bits []bool) []byte {
	out := make([]byte, byteLen(len(bits)))
	for i, bit := range bits {
		setBit(out, i, bit)
	}
	return out
}
