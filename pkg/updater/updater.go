// Package updater is the device registry and dispatcher: it binds one
// session at a time to a family driver, identifies the part and forwards
// the generic operations to it.
package updater

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/OpenTraceLab/cpldupdate/internal/metrics"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld/anlogic"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld/lattice"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithYZBBID changes the identity the YZBB fallback expects.
func WithYZBBID(id []byte) Option {
	return func(d *Dispatcher) { d.yzbb = lattice.NewYZBB(id) }
}

// WithAnlogicID changes the identity the Anlogic fallback expects.
func WithAnlogicID(id []byte) Option {
	return func(d *Dispatcher) { d.anlogic = anlogic.New(id) }
}

// WithPoller replaces the busy/status poller of new sessions.
func WithPoller(p cpld.Poller) Option {
	return func(d *Dispatcher) { d.poller = &p }
}

// WithSleep replaces time.Sleep in new sessions.
func WithSleep(f func(time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = f }
}

// WithProgress sets the progress callback of new sessions.
func WithProgress(f cpld.ProgressFunc) Option {
	return func(d *Dispatcher) { d.progress = f }
}

// WithRegistry replaces the IDCODE-identified parts, in scan order. The
// first entry is the probe default.
func WithRegistry(devs ...cpld.Device) Option {
	return func(d *Dispatcher) { d.registry = devs }
}

// Dispatcher owns the single active session. All methods are safe for
// concurrent use; operations are serialized.
type Dispatcher struct {
	mu sync.Mutex

	buses    cpld.Buses
	log      logr.Logger
	registry []cpld.Device
	yzbb     *lattice.YZBB
	anlogic  *anlogic.Device
	poller   *cpld.Poller
	sleep    func(time.Duration)
	progress cpld.ProgressFunc

	session *cpld.Session
	active  cpld.Device
}

// New returns a dispatcher over the lattice parts plus the YZBB and
// Anlogic fallbacks.
func New(buses cpld.Buses, log logr.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		buses:   buses,
		log:     log.WithName("updater"),
		yzbb:    lattice.NewYZBB(lattice.DefaultYZBBID),
		anlogic: anlogic.New(anlogic.DefaultID),
	}
	for _, dev := range lattice.Devices() {
		d.registry = append(d.registry, dev)
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Registry lists the descriptors Scan compares, in order.
func (d *Dispatcher) Registry() []cpld.Descriptor {
	out := make([]cpld.Descriptor, 0, len(d.registry)+2)
	for _, dev := range d.registry {
		out = append(out, dev.Descriptor())
	}
	return append(out, d.yzbb.Descriptor(), d.anlogic.Descriptor())
}

// Active returns the descriptor of the bound device.
func (d *Dispatcher) Active() (cpld.Descriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return cpld.Descriptor{}, false
	}
	return d.active.Descriptor(), true
}

// Probe opens the transport for intf against the default driver.
func (d *Dispatcher) Probe(intf cpld.Interface, p cpld.Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil {
		return fmt.Errorf("updater: %s session already open", d.session.Interface)
	}
	if len(d.registry) == 0 {
		return fmt.Errorf("updater: empty registry: %w", cpld.ErrUnknownDevice)
	}
	s := cpld.NewSession(intf, p, d.buses, d.log)
	if d.poller != nil {
		s.Poller = *d.poller
	}
	if d.sleep != nil {
		s.Sleep = d.sleep
	}
	s.Progress = d.progress

	dev := d.registry[0]
	if err := dev.Open(s); err != nil {
		d.log.Error(err, "probe failed", "interface", intf.String())
		return err
	}
	d.session, d.active = s, dev
	return nil
}

// Scan identifies the part on the open transport and binds its driver.
// On I2C, parts without a matching IDCODE are tried as YZBB and then as
// Anlogic. When nothing matches the probe default stays bound so Close
// still releases the transport.
func (d *Dispatcher) Scan() (cpld.Descriptor, error) {
	var found cpld.Descriptor
	err := d.run("scan", func(dev cpld.Device, s *cpld.Session) error {
		def := d.registry[0]
		id, readErr := def.DeviceID(s)
		switch {
		case readErr == nil:
			for _, c := range d.registry {
				if c.Descriptor().Matches(id) {
					d.bind(c)
					found = c.Descriptor()
					return nil
				}
			}
		case s.Interface != cpld.InterfaceI2C:
			return readErr
		default:
			s.Log.V(1).Info("idcode read failed, trying fallbacks", "err", readErr.Error())
		}

		if s.Interface == cpld.InterfaceI2C {
			for _, c := range []cpld.Device{d.yzbb, d.anlogic} {
				alt, altErr := c.DeviceID(s)
				if altErr != nil {
					s.Log.V(1).Info("identity read failed", "device", c.Descriptor().Name, "err", altErr.Error())
					continue
				}
				if c.Descriptor().Matches(alt) {
					d.bind(c)
					found = c.Descriptor()
					return nil
				}
			}
		}
		d.bind(def)
		if readErr != nil {
			return fmt.Errorf("updater: %w: %w", cpld.ErrUnknownDevice, readErr)
		}
		return fmt.Errorf("updater: id %s: %w", cpld.FormatID(id), cpld.ErrUnknownDevice)
	})
	return found, err
}

func (d *Dispatcher) bind(dev cpld.Device) {
	if dev != d.active {
		d.log.V(1).Info("bind", "device", dev.Descriptor().Name)
	}
	d.active = dev
	d.session.Log = d.session.Log.WithValues("device", dev.Descriptor().Name)
}

// run serializes op against the active device and records its outcome.
// The error is logged here and nowhere below.
func (d *Dispatcher) run(op string, fn func(dev cpld.Device, s *cpld.Session) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	var err error
	if d.active == nil {
		err = fmt.Errorf("updater: %s: %w", op, cpld.ErrNoActiveDevice)
	} else {
		err = fn(d.active, d.session)
	}
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	result := metrics.Result(err)
	switch {
	case err == nil:
	case errors.Is(err, cpld.ErrExitProgramMode):
		// The operation itself completed.
		result = metrics.Result(nil)
		d.log.Info("leaving programming mode failed", "op", op, "err", err.Error())
	default:
		d.log.Error(err, "operation failed", "op", op)
	}
	metrics.OperationsTotal.WithLabelValues(op, result).Inc()
	return err
}

// withFile opens path for the duration of fn.
func withFile(path string, fn func(f *os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("updater: %w: %w", cpld.ErrFileIO, err)
	}
	defer f.Close()
	return fn(f)
}

// Version reads the active part's version or usercode.
func (d *Dispatcher) Version() (uint32, error) {
	var v uint32
	err := d.run("version", func(dev cpld.Device, s *cpld.Session) (err error) {
		v, err = dev.Version(s)
		return err
	})
	return v, err
}

// DeviceID reads the active part's identity.
func (d *Dispatcher) DeviceID() ([]byte, error) {
	var id []byte
	err := d.run("device_id", func(dev cpld.Device, s *cpld.Session) (err error) {
		id, err = dev.DeviceID(s)
		return err
	})
	return id, err
}

// Checksum returns the checksum of the image at path and of the device.
// A difference is not an error; see cpld.Checksum.Compare.
func (d *Dispatcher) Checksum(path string) (cpld.Checksum, error) {
	var c cpld.Checksum
	err := d.run("checksum", func(dev cpld.Device, s *cpld.Session) error {
		return withFile(path, func(f *os.File) (err error) {
			c, err = dev.Checksum(s, f)
			return err
		})
	})
	return c, err
}

// Erase clears the active part.
func (d *Dispatcher) Erase() error {
	return d.run("erase", func(dev cpld.Device, s *cpld.Session) error {
		return dev.Erase(s)
	})
}

// Program writes the image at path. key and signed are passed through to
// the driver.
func (d *Dispatcher) Program(path, key string, signed bool) error {
	return d.run("program", func(dev cpld.Device, s *cpld.Session) error {
		return withFile(path, func(f *os.File) error {
			return dev.Program(s, f, key, signed)
		})
	})
}

// Verify compares the part with the image at path.
func (d *Dispatcher) Verify(path string) error {
	return d.run("verify", func(dev cpld.Device, s *cpld.Session) error {
		return withFile(path, func(f *os.File) error {
			return dev.Verify(s, f)
		})
	})
}

// Close releases the transport. The active device is cleared even when the
// driver reports an error.
func (d *Dispatcher) Close() error {
	return d.run("close", func(dev cpld.Device, s *cpld.Session) error {
		err := dev.Close(s)
		d.active, d.session = nil, nil
		return err
	})
}
