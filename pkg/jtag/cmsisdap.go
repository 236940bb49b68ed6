package jtag

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// CMSIS-DAP command IDs.
const (
	cmdInfo         = 0x00
	cmdConnect      = 0x02
	cmdDisconnect   = 0x03
	cmdSWJClock     = 0x11
	cmdJTAGSequence = 0x14
)

// DAP_Info IDs.
const (
	infoVendor   = 0x01
	infoProduct  = 0x02
	infoSerial   = 0x03
	infoFirmware = 0x04
)

const (
	portJTAG = 2

	statusOK = 0x00

	seqTCKMask = 0x3F // 0 means 64 clocks
	seqTMS     = 0x40
	seqTDO     = 0x80
	seqMaxBits = 64
)

var errDAPResponse = errors.New("jtag: bad CMSIS-DAP response")

// packetConn is one command/response exchange with a probe.
type packetConn interface {
	WriteRead(cmd []byte) ([]byte, error)
	PacketSize() int
	Close() error
}

// dapSequence is one DAP_JTAG_Sequence entry: up to 64 clocks with constant
// TMS, TDO always captured.
type dapSequence struct {
	bits int
	tms  bool
	tdi  []byte
}

func (s dapSequence) info() byte {
	b := byte(s.bits & seqTCKMask)
	if s.tms {
		b |= seqTMS
	}
	return b | seqTDO
}

// splitSequences cuts a TMS/TDI stream wherever TMS changes or a run reaches
// 64 clocks.
func splitSequences(tms, tdi []byte, bits int) []dapSequence {
	var out []dapSequence
	for pos := 0; pos < bits; {
		level := bitAt(tms, pos)
		n := 0
		for pos+n < bits && n < seqMaxBits && bitAt(tms, pos+n) == level {
			n++
		}
		seq := dapSequence{bits: n, tms: level, tdi: make([]byte, byteLen(n))}
		for i := 0; i < n; i++ {
			setBit(seq.tdi, i, bitAt(tdi, pos+i))
		}
		out = append(out, seq)
		pos += n
	}
	return out
}

// batchSequences groups sequences so that neither the command nor its
// response exceeds one packet.
func batchSequences(seqs []dapSequence, packetSize int) [][]dapSequence {
	var (
		out       [][]dapSequence
		cur       []dapSequence
		cmdLen    = 2
		respLen   = 2
		maxInPack = 255
	)
	for _, s := range seqs {
		n := byteLen(s.bits)
		if len(cur) > 0 && (cmdLen+1+n > packetSize || respLen+n > packetSize || len(cur) == maxInPack) {
			out = append(out, cur)
			cur, cmdLen, respLen = nil, 2, 2
		}
		cur = append(cur, s)
		cmdLen += 1 + n
		respLen += n
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func encodeSequences(seqs []dapSequence) []byte {
	cmd := []byte{cmdJTAGSequence, byte(len(seqs))}
	for _, s := range seqs {
		cmd = append(cmd, s.info())
		cmd = append(cmd, s.tdi...)
	}
	return cmd
}

func checkStatus(resp []byte, cmd byte) error {
	if len(resp) < 2 || resp[0] != cmd {
		return fmt.Errorf("%w to command 0x%02X", errDAPResponse, cmd)
	}
	if resp[1] != statusOK {
		return fmt.Errorf("jtag: CMSIS-DAP command 0x%02X failed (status 0x%02X)", cmd, resp[1])
	}
	return nil
}

// CMSISDAPAdapter is a CMSIS-DAP probe driven in JTAG mode.
type CMSISDAPAdapter struct {
	mu   sync.Mutex
	conn packetConn
	info AdapterInfo
}

// NewCMSISDAPAdapter opens the first USB probe with the given IDs.
func NewCMSISDAPAdapter(vid, pid uint16) (*CMSISDAPAdapter, error) {
	conn, err := openUSBConn(vid, pid)
	if err != nil {
		return nil, err
	}
	a, err := newCMSISDAPAdapter(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func newCMSISDAPAdapter(conn packetConn) (*CMSISDAPAdapter, error) {
	a := &CMSISDAPAdapter{conn: conn}
	a.info = AdapterInfo{
		Name:         "CMSIS-DAP",
		Vendor:       a.infoString(infoVendor),
		Model:        a.infoString(infoProduct),
		SerialNumber: a.infoString(infoSerial),
		Firmware:     a.infoString(infoFirmware),
		MinFrequency: 1000,
		MaxFrequency: 10_000_000,
	}

	resp, err := conn.WriteRead([]byte{cmdConnect, portJTAG})
	if err != nil {
		return nil, fmt.Errorf("jtag: CMSIS-DAP connect: %w", err)
	}
	if len(resp) < 2 || resp[0] != cmdConnect || resp[1] != portJTAG {
		return nil, fmt.Errorf("jtag: CMSIS-DAP probe refused JTAG mode: % X", resp)
	}
	return a, nil
}

// infoString reads a DAP_Info string; probes may leave any of them empty.
func (a *CMSISDAPAdapter) infoString(id byte) string {
	resp, err := a.conn.WriteRead([]byte{cmdInfo, id})
	if err != nil || len(resp) < 2 || resp[0] != cmdInfo {
		return ""
	}
	n := int(resp[1])
	if len(resp) < 2+n {
		return ""
	}
	s := resp[2 : 2+n]
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return string(s)
}

func (a *CMSISDAPAdapter) Info() (AdapterInfo, error) {
	return a.info, nil
}

func (a *CMSISDAPAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tms, tdi, bits)
}

func (a *CMSISDAPAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tms, tdi, bits)
}

func (a *CMSISDAPAdapter) shift(tms, tdi []byte, bits int) ([]byte, error) {
	if _, err := ValidateShiftBuffers(tms, tdi, bits); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	tdo := make([]byte, byteLen(bits))
	pos := 0
	for _, batch := range batchSequences(splitSequences(tms, tdi, bits), a.conn.PacketSize()) {
		resp, err := a.conn.WriteRead(encodeSequences(batch))
		if err != nil {
			return nil, fmt.Errorf("jtag: CMSIS-DAP sequence: %w", err)
		}
		if err := checkStatus(resp, cmdJTAGSequence); err != nil {
			return nil, err
		}
		off := 2
		for _, s := range batch {
			n := byteLen(s.bits)
			if off+n > len(resp) {
				return nil, fmt.Errorf("%w: TDO truncated", errDAPResponse)
			}
			for i := 0; i < s.bits; i++ {
				setBit(tdo, pos+i, bitAt(resp[off:off+n], i))
			}
			off += n
			pos += s.bits
		}
	}
	return tdo, nil
}

// ResetTAP clocks five TMS=1 cycles. Hard reset is not wired on this probe.
func (a *CMSISDAPAdapter) ResetTAP(hard bool) error {
	if hard {
		return ErrNotImplemented
	}
	_, err := a.shift([]byte{0x1F}, []byte{0}, 5)
	return err
}

func (a *CMSISDAPAdapter) SetSpeed(hz int) error {
	if hz < a.info.MinFrequency || hz > a.info.MaxFrequency {
		return fmt.Errorf("jtag: frequency %d Hz out of range [%d, %d]", hz, a.info.MinFrequency, a.info.MaxFrequency)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cmd := make([]byte, 5)
	cmd[0] = cmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], uint32(hz))
	resp, err := a.conn.WriteRead(cmd)
	if err != nil {
		return fmt.Errorf("jtag: CMSIS-DAP set clock: %w", err)
	}
	return checkStatus(resp, cmdSWJClock)
}

// Close disconnects the probe and releases the USB device.
func (a *CMSISDAPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.conn.WriteRead([]byte{cmdDisconnect})
	return a.conn.Close()
}
