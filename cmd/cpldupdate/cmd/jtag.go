package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/cpldupdate/internal/config"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
)

var (
	jtagDevice    int
	jtagFrequency uint32
	jtagAdapter   string
	jtagOps       opFlags
)

var jtagCmd = &cobra.Command{
	Use:   "jtag",
	Short: "Update a Lattice CPLD over JTAG",
	Long: `Identify the CPLD on the JTAG master and run the requested operations.
The kernel adapter drives /dev/jtagN; cmsis-dap drives a USB debug probe.

Examples:
  cpldupdate jtag -d 0 --program board.jed
  cpldupdate jtag --adapter cmsis-dap --frequency 1000000 -i`,
	Args: cobra.NoArgs,
	RunE: runJTAG,
}

func init() {
	rootCmd.AddCommand(jtagCmd)
	jtagCmd.Flags().IntVarP(&jtagDevice, "device", "d", -1, "JTAG master index (/dev/jtagN)")
	jtagCmd.Flags().Uint32Var(&jtagFrequency, "frequency", 0, "TCK frequency in Hz (0 keeps the driver default)")
	jtagCmd.Flags().StringVar(&jtagAdapter, "adapter", "", "JTAG adapter: kernel or cmsis-dap")
	jtagOps.bind(jtagCmd)
}

func jtagParams() (cpld.Params, error) {
	p := profile.Params()
	if jtagDevice >= 0 {
		p.JTAGDevice = jtagDevice
	}
	if jtagFrequency != 0 {
		p.Frequency = jtagFrequency
	}
	switch jtagAdapter {
	case "":
	case config.AdapterKernel, config.AdapterCMSISDAP:
		profile.Adapter = jtagAdapter
	default:
		return p, fmt.Errorf("unknown adapter %q", jtagAdapter)
	}
	return p, nil
}

func runJTAG(cmd *cobra.Command, args []string) error {
	p, err := jtagParams()
	if err != nil {
		return err
	}
	return runSession(cmd, cpld.InterfaceJTAG, p, jtagOps)
}
