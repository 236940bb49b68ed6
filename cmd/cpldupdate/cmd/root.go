package cmd

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/cpldupdate/internal/config"
	"github.com/OpenTraceLab/cpldupdate/internal/logging"
)

var (
	// Global flags
	verbosity   int
	logFormat   string
	configPath  string
	metricsFile string
	simulate    string

	log     = logr.Discard()
	profile = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "cpldupdate",
	Short: "Program Lattice and Anlogic CPLDs over I2C or JTAG",
	Long: `Update the configuration of a board CPLD from a BMC or bench host.

Lattice MachXO2/MachXO3 parts (LCMXO3LF, LCMXO3D and YZBB boards) are
programmed from JEDEC files over I2C or JTAG. Anlogic parts take a raw
flash image over their I2C bridge.

Examples:
  cpldupdate i2c -b 7 -s 0x40 --program board.jed    # Program over I2C
  cpldupdate jtag -d 0 --checksum board.jed          # Compare checksums over JTAG
  cpldupdate i2c -b 7 -s 0x40 -V -i                  # Print version and ID
  cpldupdate jedec board.jed                         # Inspect a JEDEC file`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(logging.Options{Format: logFormat, Verbosity: verbosity, Out: cmd.ErrOrStderr()})
		if err != nil {
			return err
		}
		log = l
		profile = config.Default()
		if configPath != "" {
			p, err := config.Load(configPath)
			if err != nil {
				return err
			}
			profile = p
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v steps, -vv payloads and raw transfers)")
	pf.StringVar(&logFormat, "log-format", logging.FormatConsole, "log format: console or json")
	pf.StringVar(&configPath, "config", "", "board profile (YAML)")
	pf.StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics in textfile format when done")
	pf.StringVar(&simulate, "simulate", "", "use a simulated part instead of real buses (lcmxo3lf-9400, lcmxo3lf-4300, lcmxo3d-9400, yzbb, anlogic)")
}
