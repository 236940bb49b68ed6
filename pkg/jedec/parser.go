// Package jedec decodes Lattice-style JEDEC (.jed) configuration files into
// packed rows ready to be written to a CPLD.
//
// A file is read twice. The first pass counts the data rows of each region so
// the second pass can decode into exactly sized buffers and cross-check the
// counts. The running byte sum of every decoded row must match the file's
// declared C record before an Image is returned.
package jedec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"

	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
)

var (
	// ErrEmptyConfig is returned when a file has no configuration rows.
	ErrEmptyConfig = errors.New("jedec: no configuration data")
	// ErrChecksumMismatch is the sentinel behind *ChecksumError.
	ErrChecksumMismatch = errors.New("jedec: checksum mismatch")
	// ErrRowCount is returned when the decode pass disagrees with the sizing pass.
	ErrRowCount = errors.New("jedec: row count changed between passes")
)

// ChecksumError reports a declared checksum the decoded rows do not match.
// A declared checksum of zero is always rejected.
type ChecksumError struct {
	Declared uint16
	Computed uint16
}

func (e *ChecksumError) Error() string {
	if e.Declared == 0 {
		return fmt.Sprintf("jedec: declared checksum is zero (computed %04X)", e.Computed)
	}
	return fmt.Sprintf("jedec: checksum mismatch: declared %04X, computed %04X", e.Declared, e.Computed)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// Field tags.
const (
	tagFuseCount = "QF"
	tagConfig    = "L000"
	tagUFM       = "NOTE TAG DATA"
	tagEndConfig = "NOTE END CONFIG DATA"
	tagFeature   = "NOTE FEATURE"
	tagUsercode  = "NOTE User Electronic"
	tagChecksum  = "C"
	tagUH        = "UH"
	tagFeatureE  = "E"
)

type options struct {
	log logr.Logger
}

// Option configures Size and Parse.
type Option func(*options)

// WithLogger traces the decode at V(1) (block boundaries, records) and V(2)
// (every row).
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

func newOptions(opts []Option) options {
	o := options{log: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// visitor receives the events of one walk over the file.
type visitor struct {
	row       func(lineNo int, r Region, line string) error
	fuseCount func(lineNo int, line string) error
	checksum  func(lineNo int, line string) error
	feature   func(lineNo int, line string) error
	fear      func(lineNo int, line string) error
	usercode  func(lineNo int, line string) error
}

func isDataLine(line string) bool {
	return line[0] == '0' || line[0] == '1'
}

func isChecksumRecord(line string) bool {
	if !strings.HasPrefix(line, tagChecksum) {
		return false
	}
	rec, err := parseRecord(line)
	return err == nil && rec.Key == tagChecksum && rec.End
}

// walk scans r line by line. Block flags are independent; when several are
// set the configuration block wins, then the pending records, then UFM, then
// the trailing configuration block.
func walk(r io.Reader, v visitor) error {
	var (
		inConfig, inUFM, inEnd bool
		inFeature, inUsercode  bool
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, tagFuseCount):
			if v.fuseCount != nil {
				if err := v.fuseCount(lineNo, line); err != nil {
					return err
				}
			}
			continue
		case strings.HasPrefix(line, tagConfig):
			inConfig = true
		case strings.Contains(line, tagUFM):
			inUFM = true
		case strings.Contains(line, tagFeature):
			inFeature = true
		case strings.Contains(line, tagUsercode):
			inUsercode = true
		case strings.Contains(line, tagEndConfig):
			inEnd = true
		case isChecksumRecord(line):
			inConfig = false
			if v.checksum != nil {
				if err := v.checksum(lineNo, line); err != nil {
					return err
				}
			}
			continue
		}

		switch {
		case inConfig:
			if strings.HasPrefix(line, tagConfig) {
				continue
			}
			if !isDataLine(line) {
				inConfig = false
				continue
			}
			if v.row != nil {
				if err := v.row(lineNo, RegionConfig, line); err != nil {
					return err
				}
			}
		case inFeature:
			if strings.Contains(line, tagFeature) {
				continue
			}
			if strings.HasPrefix(line, tagFeatureE) {
				if v.feature != nil {
					if err := v.feature(lineNo, line); err != nil {
						return err
					}
				}
				continue
			}
			inFeature = false
			if v.fear != nil {
				if err := v.fear(lineNo, line); err != nil {
					return err
				}
			}
		case inUsercode:
			if strings.Contains(line, tagUsercode) {
				continue
			}
			inUsercode = false
			if strings.HasPrefix(line, tagUH) && v.usercode != nil {
				if err := v.usercode(lineNo, line); err != nil {
					return err
				}
			}
		case inUFM:
			if strings.Contains(line, tagUFM) || line[0] == 'L' {
				continue
			}
			if !isDataLine(line) {
				inUFM = false
				continue
			}
			if v.row != nil {
				if err := v.row(lineNo, RegionUFM, line); err != nil {
					return err
				}
			}
		case inEnd:
			if strings.Contains(line, tagEndConfig) || line[0] == 'L' {
				continue
			}
			if !isDataLine(line) {
				inEnd = false
				continue
			}
			if v.row != nil {
				if err := v.row(lineNo, RegionEndConfig, line); err != nil {
					return err
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("jedec: read line %d: %w", lineNo+1, err)
	}
	return nil
}

// Size runs the sizing pass and reports the row count of every region.
func Size(r io.Reader, opts ...Option) (Sizes, error) {
	o := newOptions(opts)
	var s Sizes
	err := walk(r, visitor{
		row: func(_ int, reg Region, _ string) error {
			switch reg {
			case RegionConfig:
				s.ConfigLines++
			case RegionUFM:
				s.UFMLines++
			case RegionEndConfig:
				s.EndConfigLines++
			}
			return nil
		},
	})
	if err != nil {
		return Sizes{}, err
	}
	o.log.V(1).Info("sized image", "cf", s.ConfigLines, "ufm", s.UFMLines, "endcf", s.EndConfigLines)
	if s.ConfigLines == 0 {
		return s, ErrEmptyConfig
	}
	return s, nil
}

// Parse sizes and decodes the JEDEC file in r, rewinding between passes.
func Parse(r io.ReadSeeker, opts ...Option) (*Image, error) {
	o := newOptions(opts)
	sizes, err := Size(r, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("jedec: rewind: %w", err)
	}

	im := &Image{
		Config:    make([]uint32, 0, sizes.ConfigLines*WordsPerRow),
		UFM:       make([]uint32, 0, sizes.UFMLines*WordsPerRow),
		EndConfig: make([]uint32, 0, sizes.EndConfigLines*WordsPerRow),
	}
	haveChecksum := false

	err = walk(r, visitor{
		row: func(lineNo int, reg Region, line string) error {
			if len(line) > RowBits {
				line = line[:RowBits]
			}
			words, err := codec.PackBits([]byte(line), RowBits)
			if err != nil {
				return fmt.Errorf("jedec: line %d (%s row): %w", lineNo, reg, err)
			}
			switch reg {
			case RegionConfig:
				im.Config = append(im.Config, words...)
			case RegionUFM:
				im.UFM = append(im.UFM, words...)
			case RegionEndConfig:
				im.EndConfig = append(im.EndConfig, words...)
			}
			o.log.V(2).Info("row", "region", reg.String(), "line", lineNo, "words", fmt.Sprintf("%08X", words))
			return nil
		},
		fuseCount: func(lineNo int, line string) error {
			v, err := fuseCount(line)
			if err != nil {
				return fmt.Errorf("jedec: line %d: %w", lineNo, err)
			}
			im.FuseCount = v
			o.log.V(1).Info("fuse count", "qf", v)
			return nil
		},
		checksum: func(lineNo int, line string) error {
			v, err := declaredChecksum(line)
			if err != nil {
				return fmt.Errorf("jedec: line %d: %w", lineNo, err)
			}
			im.Checksum = v
			haveChecksum = true
			o.log.V(1).Info("declared checksum", "checksum", fmt.Sprintf("%04X", v))
			return nil
		},
		feature: func(lineNo int, line string) error {
			v, bits, err := binaryField(line)
			if err != nil {
				return fmt.Errorf("jedec: line %d feature row: %w", lineNo, err)
			}
			im.FeatureRow, im.FeatureRowBits = v, bits
			return nil
		},
		fear: func(lineNo int, line string) error {
			v, bits, err := fearField(line)
			if err != nil {
				return fmt.Errorf("jedec: line %d FEAR bits: %w", lineNo, err)
			}
			im.FEARBits, im.FEARBitString = v, bits
			o.log.V(1).Info("feature row", "featureRow", fmt.Sprintf("%X", im.FeatureRow), "fear", fmt.Sprintf("%X", v))
			return nil
		},
		usercode: func(lineNo int, line string) error {
			v, err := usercode(line)
			if err != nil {
				return fmt.Errorf("jedec: line %d: %w", lineNo, err)
			}
			im.Usercode = v
			o.log.V(1).Info("usercode", "usercode", fmt.Sprintf("%08X", v))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	got := Sizes{ConfigLines: im.ConfigLines(), UFMLines: im.UFMLines(), EndConfigLines: im.EndConfigLines()}
	if got != sizes {
		return nil, fmt.Errorf("%w: sized %+v, decoded %+v", ErrRowCount, sizes, got)
	}

	computed := im.ComputedChecksum()
	if !haveChecksum || im.Checksum == 0 || im.Checksum != computed {
		return nil, &ChecksumError{Declared: im.Checksum, Computed: computed}
	}
	return im, nil
}

// ParseBytes parses an in-memory JEDEC file.
func ParseBytes(b []byte, opts ...Option) (*Image, error) {
	return Parse(bytes.NewReader(b), opts...)
}
