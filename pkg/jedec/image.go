package jedec

import (
	"fmt"

	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
)

const (
	// RowBits is the width of one data line and of one device page.
	RowBits = 128
	// RowBytes is RowBits in bytes.
	RowBytes = RowBits / 8
	// WordsPerRow is the number of packed words per row.
	WordsPerRow = RowBits / codec.WordBits
)

// Region identifies one of the three data blocks of a JEDEC file.
type Region uint8

const (
	RegionConfig Region = iota
	RegionUFM
	RegionEndConfig
)

func (r Region) String() string {
	switch r {
	case RegionConfig:
		return "cf"
	case RegionUFM:
		return "ufm"
	case RegionEndConfig:
		return "endcf"
	default:
		return fmt.Sprintf("region(%d)", uint8(r))
	}
}

// Sizes holds the row counts found by the sizing pass.
type Sizes struct {
	ConfigLines    int
	UFMLines       int
	EndConfigLines int
}

// Image is a decoded JEDEC file. Every region is stored as packed words,
// WordsPerRow per row, in file order.
type Image struct {
	FuseCount  uint64
	Config     []uint32
	UFM        []uint32
	EndConfig  []uint32
	Usercode   uint32
	Checksum   uint16
	FeatureRow uint64
	FEARBits   uint64

	// Raw bit strings of the feature records, kept for display.
	FeatureRowBits string
	FEARBitString  string
}

// Words returns the packed words of region r.
func (im *Image) Words(r Region) []uint32 {
	switch r {
	case RegionConfig:
		return im.Config
	case RegionUFM:
		return im.UFM
	case RegionEndConfig:
		return im.EndConfig
	}
	return nil
}

// Lines returns the number of rows in region r.
func (im *Image) Lines(r Region) int {
	return len(im.Words(r)) / WordsPerRow
}

// ConfigLines returns the number of CF rows.
func (im *Image) ConfigLines() int { return im.Lines(RegionConfig) }

// UFMLines returns the number of UFM rows.
func (im *Image) UFMLines() int { return im.Lines(RegionUFM) }

// EndConfigLines returns the number of trailing config rows.
func (im *Image) EndConfigLines() int { return im.Lines(RegionEndConfig) }

// Row returns row i of region r as the 16 bytes sent to the device, in the
// JTAG shift order (little-endian words).
func (im *Image) Row(r Region, i int) []byte {
	words := im.Words(r)
	return codec.WordsToBytes(words[i*WordsPerRow : (i+1)*WordsPerRow])
}

// RegionSum adds every byte of region r.
func (im *Image) RegionSum(r Region) uint32 {
	return codec.ByteSum(codec.WordsToBytes(im.Words(r)))
}

// ComputedChecksum is the 16-bit byte sum over all three regions.
func (im *Image) ComputedChecksum() uint16 {
	sum := im.RegionSum(RegionConfig) + im.RegionSum(RegionUFM) + im.RegionSum(RegionEndConfig)
	return uint16(sum & 0xFFFF)
}
