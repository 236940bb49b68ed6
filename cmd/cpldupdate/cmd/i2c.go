package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
)

var (
	i2cBus   int
	i2cSlave string
	i2cOps   opFlags
)

var i2cCmd = &cobra.Command{
	Use:   "i2c",
	Short: "Update a CPLD over I2C",
	Long: `Identify the CPLD at the given bus and slave address, then run the
requested operations. Parts without a Lattice IDCODE are tried as YZBB and
Anlogic boards.

Examples:
  cpldupdate i2c -b 7 -s 0x40 --program board.jed
  cpldupdate i2c -b 7 -s 0x40 --checksum board.jed
  cpldupdate i2c --config board.yaml -V`,
	Args: cobra.NoArgs,
	RunE: runI2C,
}

func init() {
	rootCmd.AddCommand(i2cCmd)
	i2cCmd.Flags().IntVarP(&i2cBus, "bus", "b", -1, "I2C bus number (/dev/i2c-N)")
	i2cCmd.Flags().StringVarP(&i2cSlave, "slave", "s", "", "7-bit slave address, decimal or 0x hex")
	i2cOps.bind(i2cCmd)
}

func parseSlave(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || v > 0x7F {
		return 0, fmt.Errorf("invalid slave address %q", s)
	}
	return uint16(v), nil
}

func i2cParams() (cpld.Params, error) {
	p := profile.Params()
	if i2cBus >= 0 {
		p.Bus = i2cBus
	}
	if i2cSlave != "" {
		s, err := parseSlave(i2cSlave)
		if err != nil {
			return p, err
		}
		p.Slave = s
	}
	if p.Slave == 0 {
		return p, fmt.Errorf("no slave address (use -s or the profile)")
	}
	return p, nil
}

func runI2C(cmd *cobra.Command, args []string) error {
	p, err := i2cParams()
	if err != nil {
		return err
	}
	return runSession(cmd, cpld.InterfaceI2C, p, i2cOps)
}
