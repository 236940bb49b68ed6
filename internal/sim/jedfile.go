package sim

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
)

// JEDECFile builds a JEDEC fuse file the way Diamond lays one out. Rows are
// 16 bytes each, in the order the parser hands them to the programmer.
type JEDECFile struct {
	Config    [][]byte
	UFM       [][]byte
	EndConfig [][]byte
	Usercode  uint32
}

// Pattern returns n rows of deterministic non-zero data.
func Pattern(n int, seed byte) [][]byte {
	rows := make([][]byte, n)
	for i := range rows {
		rows[i] = make([]byte, rowBytes)
		for j := range rows[i] {
			rows[i][j] = seed + byte(i*rowBytes+j)*7 + 1
		}
	}
	return rows
}

func rowBits(row []byte) string {
	var b strings.Builder
	for k := 0; k < rowBytes*8; k++ {
		if row[k/8]>>(k%8)&1 == 1 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Checksum is the 16-bit byte sum the C record declares.
func (f JEDECFile) Checksum() uint16 {
	var sum uint32
	for _, region := range [][][]byte{f.Config, f.UFM, f.EndConfig} {
		for _, r := range region {
			sum += codec.ByteSum(r)
		}
	}
	return uint16(sum)
}

func (f JEDECFile) String() string {
	var b strings.Builder
	block := func(note, addr string, rows [][]byte) {
		if len(rows) == 0 {
			return
		}
		if note != "" {
			b.WriteString(note + "*\n")
		}
		b.WriteString(addr + "\n")
		for _, r := range rows {
			b.WriteString(rowBits(r) + "\n")
		}
		b.WriteString("*\n")
	}
	b.WriteString("\x02NOTE Diamond (64-bit) 3.12.1.454 JEDEC Compatible Fuse File.*\n")
	b.WriteString("NOTE DEVICE NAME:\tLCMXO3LF-4300C-5BG256C*\n")
	b.WriteString("QF1089472*\nG0*\nF0*\n")
	block("", "L000000", f.Config)
	block("NOTE END CONFIG DATA", "L0990720", f.EndConfig)
	block("NOTE TAG DATA", "L1089472", f.UFM)
	fmt.Fprintf(&b, "C%04X*\n", f.Checksum())
	b.WriteString("NOTE User Electronic Signature Data*\n")
	fmt.Fprintf(&b, "UH%08X*\n", f.Usercode)
	b.WriteString("\x030000\n")
	return b.String()
}

// Bytes returns the file contents.
func (f JEDECFile) Bytes() []byte { return []byte(f.String()) }
