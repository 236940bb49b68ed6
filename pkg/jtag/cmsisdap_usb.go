package jtag

import (
	"fmt"

	"github.com/google/gousb"
)

// USB identifiers of the Raspberry Pi Debug Probe / picoprobe CMSIS-DAP firmware.
const (
	VendorIDRaspberryPi = 0x2E8A
	ProductIDCMSISDAP   = 0x000C
)

const defaultPacketSize = 64

// usbConn exchanges CMSIS-DAP v2 packets over the bulk endpoints of the
// vendor-class interface.
type usbConn struct {
	ctx        *gousb.Context
	dev        *gousb.Device
	cfg        *gousb.Config
	intf       *gousb.Interface
	out        *gousb.OutEndpoint
	in         *gousb.InEndpoint
	packetSize int
}

func openUSBConn(vid, pid uint16) (*usbConn, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("jtag: open USB %04X:%04X: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("jtag: USB device %04X:%04X not found", vid, pid)
	}
	// Not supported on every platform.
	_ = dev.SetAutoDetach(true)

	c := &usbConn{ctx: ctx, dev: dev, packetSize: defaultPacketSize}
	if err := c.claim(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *usbConn) claim() error {
	cfgNum, err := c.dev.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("jtag: USB active config: %w", err)
	}
	cfg, err := c.dev.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("jtag: USB config %d: %w", cfgNum, err)
	}
	c.cfg = cfg

	num := 0
	for _, d := range cfg.Desc.Interfaces {
		if len(d.AltSettings) > 0 && d.AltSettings[0].Class == gousb.ClassVendorSpec {
			num = d.Number
			break
		}
	}
	intf, err := cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("jtag: claim USB interface %d: %w", num, err)
	}
	c.intf = intf

	var outNum, inNum int
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && outNum == 0:
			outNum = ep.Number
		case ep.Direction == gousb.EndpointDirectionIn && inNum == 0:
			inNum = ep.Number
			c.packetSize = ep.MaxPacketSize
		}
	}
	if outNum == 0 || inNum == 0 {
		return fmt.Errorf("jtag: USB interface %d has no bulk endpoint pair", num)
	}
	if c.out, err = intf.OutEndpoint(outNum); err != nil {
		return fmt.Errorf("jtag: USB OUT endpoint: %w", err)
	}
	if c.in, err = intf.InEndpoint(inNum); err != nil {
		return fmt.Errorf("jtag: USB IN endpoint: %w", err)
	}
	return nil
}

func (c *usbConn) PacketSize() int { return c.packetSize }

func (c *usbConn) WriteRead(cmd []byte) ([]byte, error) {
	if _, err := c.out.Write(cmd); err != nil {
		return nil, fmt.Errorf("USB write: %w", err)
	}
	resp := make([]byte, c.packetSize)
	n, err := c.in.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("USB read: %w", err)
	}
	return resp[:n], nil
}

func (c *usbConn) Close() error {
	if c.intf != nil {
		c.intf.Close()
		c.intf = nil
	}
	var err error
	if c.cfg != nil {
		err = c.cfg.Close()
		c.cfg = nil
	}
	if c.dev != nil {
		if cerr := c.dev.Close(); err == nil {
			err = cerr
		}
		c.dev = nil
	}
	if c.ctx != nil {
		if cerr := c.ctx.Close(); err == nil {
			err = cerr
		}
		c.ctx = nil
	}
	return err
}
