package lattice

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/OpenTraceLab/cpldupdate/internal/metrics"
	"github.com/OpenTraceLab/cpldupdate/pkg/codec"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
	"github.com/OpenTraceLab/cpldupdate/pkg/jedec"
)

// usercodeSettle follows ISC_PROGRAM_USERCODE.
const usercodeSettle = 2 * time.Millisecond

// State is a step of the programming sequence.
type State uint8

const (
	StateIdle State = iota
	StateTransparent
	StateErasing
	StateProgramming
	StateVerifying
	StateExiting
)

var stateNames = [...]string{"Idle", "Transparent", "Erasing", "Programming", "Verifying", "Exiting"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// engine runs the enter/erase/program/verify/exit sequence over a Port.
// A failed poll stops the sequence where it is: the part is left in
// transparent mode and no exit is attempted.
type engine struct {
	s     *cpld.Session
	port  Port
	log   logr.Logger
	state State
	trace []State
}

func newEngine(s *cpld.Session, port Port, log logr.Logger) *engine {
	return &engine{s: s, port: port, log: log, trace: []State{StateIdle}}
}

func (e *engine) to(next State) {
	e.log.V(1).Info("state", "from", e.state.String(), "to", next.String())
	e.state = next
	e.trace = append(e.trace, next)
}

// pacedPort is implemented by ports whose Busy and Status reads wait
// themselves, so the poller does not sleep again between attempts.
type pacedPort interface {
	pacesPolls()
}

func (e *engine) poll(kind string, done func() (bool, error)) error {
	p := e.s.Poller
	if _, ok := e.port.(pacedPort); ok {
		p.Interval = 0
	}
	return p.Until(e.s.Sleep, kind, done)
}

func (e *engine) waitBusy() error {
	return e.poll("busy", func() (bool, error) {
		busy, err := e.port.Busy()
		return !busy, err
	})
}

func (e *engine) waitStatus() error {
	return e.poll("status", func() (bool, error) {
		st, err := e.port.Status()
		if err == nil && st != 0 {
			e.log.V(2).Info("status", "field", st)
		}
		return st == 0, err
	})
}

// enter puts the part in transparent (offline configuration) mode.
func (e *engine) enter() error {
	if err := e.port.Enable(); err != nil {
		return fmt.Errorf("lattice: enable: %w", err)
	}
	if err := e.waitBusy(); err != nil {
		return fmt.Errorf("lattice: enable: %w", err)
	}
	if err := e.waitStatus(); err != nil {
		return fmt.Errorf("lattice: enable: %w", err)
	}
	e.to(StateTransparent)
	return nil
}

// exit sets DONE and leaves configuration mode. A failed poll still sends
// the disable sequence.
func (e *engine) exit() error {
	e.to(StateExiting)
	if err := e.port.ProgramDone(); err != nil {
		return fmt.Errorf("lattice: program done: %w", err)
	}
	pollErr := e.waitBusy()
	if pollErr == nil {
		pollErr = e.waitStatus()
	}
	if err := e.port.Disable(); err != nil {
		return fmt.Errorf("lattice: disable: %w", errors.Join(pollErr, err))
	}
	if pollErr != nil {
		return fmt.Errorf("lattice: program done: %w", pollErr)
	}
	e.to(StateIdle)
	return nil
}

func (e *engine) erase(mask uint8) error {
	e.to(StateErasing)
	e.log.V(1).Info("erase", "mask", fmt.Sprintf("0x%02X", mask))
	e.s.Report(cpld.Progress{Phase: cpld.PhaseErase, Total: 1})
	if err := e.port.Erase(mask); err != nil {
		return fmt.Errorf("lattice: erase: %w", err)
	}
	if err := e.waitBusy(); err != nil {
		return fmt.Errorf("lattice: erase: %w", err)
	}
	if err := e.waitStatus(); err != nil {
		return fmt.Errorf("lattice: erase: %w", err)
	}
	e.s.Report(cpld.Progress{Phase: cpld.PhaseErase, Done: 1, Total: 1})
	return nil
}

func (e *engine) writeRegion(im *jedec.Image, r jedec.Region) error {
	if err := e.port.InitAddress(r); err != nil {
		return fmt.Errorf("lattice: init %s address: %w", r, err)
	}
	n := im.Lines(r)
	written := metrics.PagesWrittenTotal.WithLabelValues(r.String())
	for i := 0; i < n; i++ {
		row := im.Row(r, i)
		e.log.V(2).Info("write page", "region", r.String(), "row", i, "data", fmt.Sprintf("% X", row))
		if err := e.port.WritePage(row); err != nil {
			return fmt.Errorf("lattice: write %s row %d: %w", r, i, err)
		}
		if err := e.waitBusy(); err != nil {
			return fmt.Errorf("lattice: write %s row %d: %w", r, i, err)
		}
		written.Inc()
		e.s.Report(cpld.Progress{Phase: cpld.PhaseProgram, Region: r.String(), Done: i + 1, Total: n})
	}
	return nil
}

// program writes CF, then UFM when present, then the usercode.
func (e *engine) program(im *jedec.Image) error {
	e.to(StateProgramming)
	if err := e.writeRegion(im, jedec.RegionConfig); err != nil {
		return err
	}
	if im.UFMLines() > 0 {
		if err := e.writeRegion(im, jedec.RegionUFM); err != nil {
			return err
		}
	}
	if err := e.waitStatus(); err != nil {
		return fmt.Errorf("lattice: program: %w", err)
	}
	e.log.V(1).Info("write usercode", "usercode", fmt.Sprintf("%08X", im.Usercode))
	if err := e.port.WriteUsercode(im.Usercode); err != nil {
		return fmt.Errorf("lattice: write usercode: %w", err)
	}
	e.s.Wait(usercodeSettle)
	if err := e.waitStatus(); err != nil {
		return fmt.Errorf("lattice: write usercode: %w", err)
	}
	return nil
}

// verify reads every CF row back and compares it with the image.
func (e *engine) verify(im *jedec.Image) error {
	e.to(StateVerifying)
	r := jedec.RegionConfig
	if err := e.port.BeginRead(r); err != nil {
		return fmt.Errorf("lattice: verify: %w", err)
	}
	n := im.Lines(r)
	read := metrics.PagesReadTotal.WithLabelValues(r.String())
	for i := 0; i < n; i++ {
		got, err := e.port.ReadPage()
		if err != nil {
			return fmt.Errorf("lattice: verify row %d: %w", i, err)
		}
		read.Inc()
		if want := im.Row(r, i); !bytes.Equal(got, want) {
			return &cpld.VerifyError{Region: r.String(), Row: i, Want: want, Got: got}
		}
		e.s.Report(cpld.Progress{Phase: cpld.PhaseVerify, Region: r.String(), Done: i + 1, Total: n})
	}
	return nil
}

// readSum reads n rows of a region and returns their byte sum.
func (e *engine) readSum(r jedec.Region, n int) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if err := e.port.BeginRead(r); err != nil {
		return 0, fmt.Errorf("lattice: read %s: %w", r, err)
	}
	read := metrics.PagesReadTotal.WithLabelValues(r.String())
	var sum uint32
	for i := 0; i < n; i++ {
		row, err := e.port.ReadPage()
		if err != nil {
			return 0, fmt.Errorf("lattice: read %s row %d: %w", r, i, err)
		}
		read.Inc()
		e.log.V(2).Info("read page", "region", r.String(), "row", i, "data", fmt.Sprintf("% X", row))
		sum += codec.ByteSum(row)
		e.s.Report(cpld.Progress{Phase: cpld.PhaseRead, Region: r.String(), Done: i + 1, Total: n})
	}
	return sum, nil
}

// deviceChecksum sums the CF and UFM content read back from the part plus
// the file's trailing config rows, which the part has no read path for.
func (e *engine) deviceChecksum(im *jedec.Image) (uint32, error) {
	cf, err := e.readSum(jedec.RegionConfig, im.ConfigLines())
	if err != nil {
		return 0, err
	}
	ufm, err := e.readSum(jedec.RegionUFM, im.UFMLines())
	if err != nil {
		return 0, err
	}
	return (cf + im.RegionSum(jedec.RegionEndConfig) + ufm) & 0xFFFF, nil
}
