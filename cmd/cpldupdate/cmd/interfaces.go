package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/cpldupdate/pkg/jtag"
)

var devRoot string

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List I2C buses, JTAG masters and USB probes",
	Long: `Scan the host for kernel JTAG masters, I2C buses and CMSIS-DAP probes and
print a summary. Use this to pick the bus or device index for the other commands.`,
	Args: cobra.NoArgs,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
	interfacesCmd.Flags().StringVar(&devRoot, "dev", "/dev", "device node directory")
	interfacesCmd.Flags().MarkHidden("dev")
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := jtag.DiscoverInterfaces(ctx, devRoot)
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No interfaces found.")
	} else {
		fmt.Fprintln(out, "Detected interfaces:")
		for _, iface := range infos {
			fmt.Fprintf(out, "  - %s\n", iface.Label())
		}
	}
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}
	return nil
}
