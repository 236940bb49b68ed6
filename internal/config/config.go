// Package config loads board profiles: the bus wiring and device identities
// of one target board, so the CLI does not need every flag on every call.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"

	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
)

// Adapters selectable for the JTAG transport.
const (
	AdapterKernel   = "kernel"
	AdapterCMSISDAP = "cmsis-dap"
)

// Duration is a time.Duration written as a Go duration string ("1ms").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Poll struct {
	Attempts int      `json:"attempts,omitempty"`
	Interval Duration `json:"interval,omitempty"`
}

// IDs overrides the identity strings the scan expects from parts that do
// not report a JTAG IDCODE.
type IDs struct {
	YZBB    string `json:"yzbb,omitempty"`
	Anlogic string `json:"anlogic,omitempty"`
}

// Profile is one board's configuration.
type Profile struct {
	Interface  string `json:"interface,omitempty"`
	Bus        int    `json:"bus,omitempty"`
	Slave      uint16 `json:"slave,omitempty"`
	JTAGDevice int    `json:"jtagDevice,omitempty"`
	Frequency  uint32 `json:"frequency,omitempty"`
	Adapter    string `json:"adapter,omitempty"`
	Poll       Poll   `json:"poll,omitempty"`
	IDs        IDs    `json:"ids,omitempty"`
}

// Default returns the built-in settings.
func Default() Profile {
	return Profile{
		Adapter: AdapterKernel,
		Poll: Poll{
			Attempts: cpld.DefaultPollAttempts,
			Interval: Duration(cpld.DefaultPollInterval),
		},
	}
}

// Parse decodes a YAML profile over the defaults.
func Parse(b []byte) (Profile, error) {
	p := Default()
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Load reads the profile at path.
func Load(path string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: %w", err)
	}
	p, err := Parse(b)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p Profile) Validate() error {
	if p.Interface != "" {
		if _, err := cpld.ParseInterface(p.Interface); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	switch p.Adapter {
	case "", AdapterKernel, AdapterCMSISDAP:
	default:
		return fmt.Errorf("config: unknown adapter %q", p.Adapter)
	}
	if p.Slave > 0x7F {
		return fmt.Errorf("config: slave 0x%X is not a 7-bit address", p.Slave)
	}
	if p.Poll.Attempts < 0 || p.Poll.Interval < 0 {
		return fmt.Errorf("config: negative poll settings")
	}
	return nil
}

// Poller returns the busy/status poller the profile describes.
func (p Profile) Poller() cpld.Poller {
	pl := cpld.DefaultPoller()
	if p.Poll.Attempts > 0 {
		pl.Attempts = p.Poll.Attempts
	}
	if p.Poll.Interval > 0 {
		pl.Interval = time.Duration(p.Poll.Interval)
	}
	return pl
}

// Params returns the session parameters of the profile.
func (p Profile) Params() cpld.Params {
	return cpld.Params{Bus: p.Bus, Slave: p.Slave, JTAGDevice: p.JTAGDevice, Frequency: p.Frequency}
}
