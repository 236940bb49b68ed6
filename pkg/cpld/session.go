package cpld

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"periph.io/x/conn/v3/i2c"

	"github.com/OpenTraceLab/cpldupdate/internal/metrics"
	"github.com/OpenTraceLab/cpldupdate/pkg/jtag"
)

// Params selects the bus endpoint of a session.
type Params struct {
	Bus        int    // I2C bus number, /dev/i2c-<Bus>
	Slave      uint16 // 7-bit I2C address
	JTAGDevice int    // JTAG driver index, /dev/jtag<JTAGDevice>
	Frequency  uint32 // JTAG TCK in Hz, 0 keeps the driver default
}

// Buses opens the raw transports. The host implementation opens real
// devices; simulators hand back in-process models.
type Buses interface {
	OpenI2C(bus int) (i2c.BusCloser, error)
	OpenJTAG(index int) (jtag.Driver, error)
}

// Default poll bounds: 4000 attempts 1ms apart.
const (
	DefaultPollAttempts = 4000
	DefaultPollInterval = time.Millisecond
)

// Poller bounds a busy or status poll.
type Poller struct {
	Attempts int
	Interval time.Duration
}

// DefaultPoller returns the standard 4000 x 1ms bound.
func DefaultPoller() Poller {
	return Poller{Attempts: DefaultPollAttempts, Interval: DefaultPollInterval}
}

// Until calls done until it reports true, at most p.Attempts times, sleeping
// p.Interval after each negative answer. A transfer error ends the poll.
func (p Poller) Until(sleep func(time.Duration), kind string, done func() (bool, error)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	counter := metrics.PollAttemptsTotal.WithLabelValues(kind)
	for i := 0; i < attempts; i++ {
		counter.Inc()
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if sleep != nil && p.Interval > 0 {
			sleep(p.Interval)
		}
	}
	metrics.PollTimeoutsTotal.WithLabelValues(kind).Inc()
	return &TimeoutError{Op: kind, Attempts: attempts}
}

// Session is the single active transport binding. It is created unopened;
// a family driver's Open fills in Bus or JTAG and Close releases them.
type Session struct {
	ID        uuid.UUID
	Interface Interface
	Params    Params
	Buses     Buses

	Bus  i2c.BusCloser
	JTAG jtag.Driver

	Log      logr.Logger
	Sleep    func(time.Duration)
	Poller   Poller
	Progress ProgressFunc
}

// NewSession returns an unopened session with default polling and real
// sleeps.
func NewSession(intf Interface, p Params, buses Buses, log logr.Logger) *Session {
	id := uuid.New()
	return &Session{
		ID:        id,
		Interface: intf,
		Params:    p,
		Buses:     buses,
		Log:       log.WithValues("session", id.String(), "interface", intf.String()),
		Sleep:     time.Sleep,
		Poller:    DefaultPoller(),
	}
}

// OpenTransport opens the bus selected by the session parameters.
func (s *Session) OpenTransport() error {
	if s.Buses == nil {
		return &TransportError{Op: "open", Err: errors.New("no bus provider")}
	}
	switch s.Interface {
	case InterfaceI2C:
		b, err := s.Buses.OpenI2C(s.Params.Bus)
		if err != nil {
			return &TransportError{Op: fmt.Sprintf("open i2c bus %d", s.Params.Bus), Err: err}
		}
		s.Bus = b
	case InterfaceJTAG:
		d, err := s.Buses.OpenJTAG(s.Params.JTAGDevice)
		if err != nil {
			return &TransportError{Op: fmt.Sprintf("open jtag%d", s.Params.JTAGDevice), Err: err}
		}
		if s.Params.Frequency != 0 {
			if err := d.SetFrequency(s.Params.Frequency); err != nil {
				d.Close()
				return &TransportError{Op: "set jtag frequency", Err: err}
			}
		}
		s.JTAG = d
	default:
		return fmt.Errorf("cpld: interface %s: %w", s.Interface, ErrUnsupported)
	}
	s.Log.V(1).Info("transport open", "bus", s.Params.Bus, "slave", s.Params.Slave, "jtagDevice", s.Params.JTAGDevice)
	return nil
}

// CloseTransport releases whatever OpenTransport opened. It is safe to call
// on an unopened session.
func (s *Session) CloseTransport() error {
	var err error
	if s.Bus != nil {
		err = s.Bus.Close()
		s.Bus = nil
	}
	if s.JTAG != nil {
		err = errors.Join(err, s.JTAG.Close())
		s.JTAG = nil
	}
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// Tx runs a combined I2C transfer against the session's slave.
func (s *Session) Tx(w, r []byte) error {
	return s.TxAddr(s.Params.Slave, w, r)
}

// TxAddr runs a combined I2C transfer against addr on the session's bus.
func (s *Session) TxAddr(addr uint16, w, r []byte) error {
	if s.Bus == nil {
		return &TransportError{Op: "i2c transfer", Err: errors.New("bus not open")}
	}
	if err := s.Bus.Tx(addr, w, r); err != nil {
		return &TransportError{Op: fmt.Sprintf("i2c transfer to 0x%02X", addr), Err: err}
	}
	return nil
}

// Wait sleeps through the session's sleep function.
func (s *Session) Wait(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
	}
}

// Poll runs the session poller.
func (s *Session) Poll(kind string, done func() (bool, error)) error {
	return s.Poller.Until(s.Sleep, kind, done)
}

// Report sends p to the progress callback, if any.
func (s *Session) Report(p Progress) {
	if s.Progress != nil {
		s.Progress(p)
	}
}
