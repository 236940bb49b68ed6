package sim

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"periph.io/x/conn/v3/i2c"

	"github.com/OpenTraceLab/cpldupdate/pkg/jtag"
)

// DefaultAddr is the slave address the simulated parts answer on.
const DefaultAddr = 0x40

// Board wires device models to the bus providers a session opens. It
// implements cpld.Buses.
type Board struct {
	I2C  i2c.Bus          // model answering on the I2C bus
	JTAG jtag.ScanHandler // model on the JTAG chain, nil for I2C-only parts

	mu     sync.Mutex
	opens  int
	closes int
}

// OpenI2C returns the model's bus. Every bus number reaches the same model.
func (b *Board) OpenI2C(bus int) (i2c.BusCloser, error) {
	if b.I2C == nil {
		return nil, fmt.Errorf("sim: no device on i2c bus %d", bus)
	}
	b.count(&b.opens)
	return &boardBus{Bus: b.I2C, board: b}, nil
}

// OpenJTAG returns an adapter-backed driver over a simulated TAP.
func (b *Board) OpenJTAG(index int) (jtag.Driver, error) {
	if b.JTAG == nil {
		return nil, fmt.Errorf("sim: no device on jtag%d", index)
	}
	a := jtag.NewSimAdapter(jtag.AdapterInfo{
		Name:         "sim",
		Vendor:       "OpenTraceLab",
		Model:        fmt.Sprintf("jtag%d", index),
		MinFrequency: 1_000,
		MaxFrequency: 50_000_000,
	}, b.JTAG)
	d, err := jtag.NewTAPDriver(a)
	if err != nil {
		return nil, err
	}
	b.count(&b.opens)
	return &boardDriver{Driver: d, board: b}, nil
}

// Opens returns how many transports were opened and closed.
func (b *Board) Opens() (opened, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.closes
}

func (b *Board) count(n *int) {
	b.mu.Lock()
	*n++
	b.mu.Unlock()
}

type boardBus struct {
	i2c.Bus
	board *Board
}

func (c *boardBus) Close() error {
	c.board.count(&c.board.closes)
	return nil
}

type boardDriver struct {
	jtag.Driver
	board *Board
}

func (d *boardDriver) Close() error {
	d.board.count(&d.board.closes)
	return d.Driver.Close()
}

// Sizes of the simulated arrays. The LCMXO3LF-9400 CF is far larger; the
// models only need room for the images they are given.
const (
	defaultCFRows  = 64
	defaultUFMRows = 16
	anlogicFlash   = 64 * 1024
)

// Part names accepted by NewBoard.
var boards = map[string]func() *Board{
	"lcmxo3lf-9400": func() *Board { return latticeBoard(0x612BE043, nil) },
	"lcmxo3lf-4300": func() *Board { return latticeBoard(0x612BC043, nil) },
	"lcmxo3d-9400":  func() *Board { return latticeBoard(0x212E3043, nil) },
	"yzbb": func() *Board {
		id := make([]byte, 16)
		copy(id[1:], "YZBB02856102")
		return latticeBoard(0xFFFFFFFF, id)
	},
	"anlogic": func() *Board {
		return &Board{I2C: NewAnlogic(DefaultAddr, anlogicFlash)}
	},
}

func latticeBoard(idcode uint32, identity []byte) *Board {
	m := NewLattice(LatticeConfig{
		Addr:     DefaultAddr,
		IDCode:   idcode,
		Identity: identity,
		Version:  0x01,
		CFRows:   defaultCFRows,
		UFMRows:  defaultUFMRows,
	})
	return &Board{I2C: m, JTAG: m}
}

// Parts lists the names NewBoard accepts.
func Parts() []string {
	names := make([]string, 0, len(boards))
	for n := range boards {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewBoard returns a fresh board carrying the named part.
func NewBoard(part string) (*Board, error) {
	f, ok := boards[strings.ToLower(part)]
	if !ok {
		return nil, fmt.Errorf("sim: unknown part %q (have %s)", part, strings.Join(Parts(), ", "))
	}
	return f(), nil
}
