// Package idcode decodes 32-bit IEEE 1149.1 IDCODE values such as the ones
// Lattice MachXO parts return from IDCODE_PUB.
package idcode

import "fmt"

// IDCode is a decoded IDCODE.
type IDCode struct {
	Raw              uint32
	Version          uint8  // [31:28]
	PartNumber       uint16 // [27:12]
	ManufacturerCode uint16 // [11:1], JEP106 bank and ID
	HasIDCode        bool   // bit 0 == 1
}

// Manufacturer is a JEP106 entry.
type Manufacturer struct {
	Code uint16
	Name string
}

// Parse splits raw into its fields.
func Parse(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8(raw >> 28),
		PartNumber:       uint16(raw >> 12),
		ManufacturerCode: uint16(raw>>1) & 0x7FF,
		HasIDCode:        raw&1 == 1,
	}
}

// The 11-bit field is (continuation count << 7) | (ID & 0x7F).
var manufacturers = map[uint16]string{
	0x015: "NXP (Philips)",
	0x01F: "Atmel",
	0x020: "STMicroelectronics",
	0x021: "Lattice Semiconductor",
	0x029: "Microchip",
	0x049: "Xilinx",
	0x06E: "Altera",
	0x23B: "ARM",
}

// LookupManufacturer returns the JEP106 entry for code. Unknown codes get a
// placeholder name and false.
func LookupManufacturer(code uint16) (Manufacturer, bool) {
	name, ok := manufacturers[code]
	if !ok {
		return Manufacturer{Code: code, Name: fmt.Sprintf("Unknown (0x%03X)", code)}, false
	}
	return Manufacturer{Code: code, Name: name}, true
}

// Manufacturer looks up the JEP106 entry of id.
func (id IDCode) Manufacturer() Manufacturer {
	m, _ := LookupManufacturer(id.ManufacturerCode)
	return m
}

func (id IDCode) String() string {
	return fmt.Sprintf("0x%08X (%s, part 0x%04X, rev %d)", id.Raw, id.Manufacturer().Name, id.PartNumber, id.Version)
}
