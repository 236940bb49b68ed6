// Package i2cbus opens the host I2C buses the CPLDs sit on and adds transfer
// tracing.
package i2cbus

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var (
	initOnce sync.Once
	initErr  error
)

// Open initializes the host drivers once and opens /dev/i2c-<bus>.
func Open(bus int) (i2c.BusCloser, error) {
	initOnce.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("i2cbus: host init: %w", initErr)
	}
	b, err := i2creg.Open(strconv.Itoa(bus))
	if err != nil {
		return nil, fmt.Errorf("i2cbus: open bus %d: %w", bus, err)
	}
	return b, nil
}

// Trace wraps b so every transfer is logged at V(2).
func Trace(b i2c.BusCloser, log logr.Logger) i2c.BusCloser {
	return &tracer{b: b, log: log.WithName("i2c")}
}

type tracer struct {
	b   i2c.BusCloser
	log logr.Logger
}

func (t *tracer) String() string { return t.b.String() }

func (t *tracer) Close() error { return t.b.Close() }

func (t *tracer) SetSpeed(f physic.Frequency) error { return t.b.SetSpeed(f) }

func (t *tracer) Tx(addr uint16, w, r []byte) error {
	err := t.b.Tx(addr, w, r)
	if v := t.log.V(2); v.Enabled() {
		v.Info("tx", "addr", fmt.Sprintf("0x%02X", addr), "w", fmt.Sprintf("% X", w), "r", fmt.Sprintf("% X", r), "err", err)
	}
	return err
}
