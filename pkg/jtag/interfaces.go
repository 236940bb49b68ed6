package jtag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"golang.org/x/sys/unix"
)

// InterfaceKind categorizes what a discovered interface can drive.
type InterfaceKind string

const (
	InterfaceKindKernelJTAG InterfaceKind = "jtag"
	InterfaceKindI2C        InterfaceKind = "i2c"
	InterfaceKindCMSISDAP   InterfaceKind = "cmsis-dap"
)

// InterfaceInfo describes one candidate programming interface.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	// Index is the JTAG master or I2C bus number for device nodes.
	Index     int
	Path      string
	VendorID  uint16
	ProductID uint16
}

// Label returns a one-line description.
func (i InterfaceInfo) Label() string {
	switch {
	case i.Path != "":
		return fmt.Sprintf("%-9s %-14s %s", i.Kind, i.Path, i.Description)
	case i.VendorID != 0:
		return fmt.Sprintf("%-9s %04X:%04X      %s", i.Kind, i.VendorID, i.ProductID, i.Description)
	}
	return fmt.Sprintf("%-9s %s", i.Kind, i.Description)
}

type knownUSBDevice struct {
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownCMSISDAP = []knownUSBDevice{
	{VendorID: VendorIDRaspberryPi, ProductID: ProductIDCMSISDAP, Description: "Raspberry Pi Debug Probe (CMSIS-DAP)"},
	{VendorID: 0x0d28, ProductID: 0x0204, Description: "DAPLink CMSIS-DAP"},
	{VendorID: 0x1366, ProductID: 0x0101, Description: "SEGGER J-Link CMSIS-DAP"},
}

// DiscoverInterfaces lists kernel JTAG masters, I2C buses and known USB
// probes. Device nodes are matched under devRoot, normally "/dev".
func DiscoverInterfaces(ctx context.Context, devRoot string) ([]InterfaceInfo, error) {
	var out []InterfaceInfo
	out = append(out, charDevices(devRoot, "jtag", InterfaceKindKernelJTAG, "ASPEED JTAG master")...)
	out = append(out, charDevices(devRoot, "i2c-", InterfaceKindI2C, "I2C bus")...)

	usb := gousb.NewContext()
	defer usb.Close()
	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		for _, k := range knownCMSISDAP {
			if uint16(desc.Vendor) == k.VendorID && uint16(desc.Product) == k.ProductID {
				out = append(out, InterfaceInfo{
					Kind:        InterfaceKindCMSISDAP,
					Description: k.Description,
					VendorID:    k.VendorID,
					ProductID:   k.ProductID,
				})
			}
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return out, fmt.Errorf("jtag: enumerate USB: %w", err)
	}
	return out, ctx.Err()
}

// charDevices returns the character devices devRoot/<prefix><N>, sorted by N.
func charDevices(devRoot, prefix string, kind InterfaceKind, desc string) []InterfaceInfo {
	paths, _ := filepath.Glob(filepath.Join(devRoot, prefix+"[0-9]*"))
	var out []InterfaceInfo
	for _, p := range paths {
		n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(p), prefix))
		if err != nil {
			continue
		}
		var st unix.Stat_t
		if err := unix.Stat(p, &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFCHR {
			continue
		}
		out = append(out, InterfaceInfo{
			Kind:        kind,
			Description: fmt.Sprintf("%s %d", desc, n),
			Index:       n,
			Path:        p,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
