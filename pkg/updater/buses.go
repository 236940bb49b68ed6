package updater

import (
	"fmt"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/i2c"

	"github.com/OpenTraceLab/cpldupdate/pkg/i2cbus"
	"github.com/OpenTraceLab/cpldupdate/pkg/jtag"
)

// JTAG adapters HostBuses can open.
const (
	AdapterKernel   = "kernel"
	AdapterCMSISDAP = "cmsis-dap"
)

// HostBuses opens the real buses of the machine: /dev/i2c-N through
// periph.io and either the kernel JTAG master or a USB CMSIS-DAP probe.
// Every transfer is traced at V(2).
type HostBuses struct {
	Adapter string
	// USB IDs of the CMSIS-DAP probe; zero selects the Raspberry Pi
	// Debug Probe.
	VendorID, ProductID uint16
	Log                 logr.Logger
}

func (h HostBuses) OpenI2C(bus int) (i2c.BusCloser, error) {
	b, err := i2cbus.Open(bus)
	if err != nil {
		return nil, err
	}
	return i2cbus.Trace(b, h.Log), nil
}

func (h HostBuses) OpenJTAG(index int) (jtag.Driver, error) {
	switch h.Adapter {
	case "", AdapterKernel:
		d, err := jtag.OpenKernel(index)
		if err != nil {
			return nil, err
		}
		return jtag.Trace(d, h.Log), nil
	case AdapterCMSISDAP:
		vid, pid := h.VendorID, h.ProductID
		if vid == 0 && pid == 0 {
			vid, pid = jtag.VendorIDRaspberryPi, jtag.ProductIDCMSISDAP
		}
		a, err := jtag.NewCMSISDAPAdapter(vid, pid)
		if err != nil {
			return nil, err
		}
		d, err := jtag.NewTAPDriver(a)
		if err != nil {
			a.Close()
			return nil, err
		}
		return jtag.Trace(d, h.Log), nil
	}
	return nil, fmt.Errorf("updater: unknown jtag adapter %q", h.Adapter)
}
