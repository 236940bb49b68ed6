package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/cpldupdate/pkg/jedec"
)

var jedecCmd = &cobra.Command{
	Use:   "jedec <file>",
	Short: "Parse a JEDEC file offline",
	Long: `Decode a JEDEC fuse file the way the programmer does and print its row
counts, usercode and checksum. The declared checksum must match the data.`,
	Args: cobra.ExactArgs(1),
	RunE: runJEDEC,
}

func init() {
	rootCmd.AddCommand(jedecCmd)
}

func runJEDEC(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	im, err := jedec.Parse(f, jedec.WithLogger(log))
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:          %s\n", args[0])
	fmt.Fprintf(out, "Fuse count:    %d\n", im.FuseCount)
	fmt.Fprintf(out, "CF rows:       %d\n", im.ConfigLines())
	fmt.Fprintf(out, "UFM rows:      %d\n", im.UFMLines())
	fmt.Fprintf(out, "End CF rows:   %d\n", im.EndConfigLines())
	fmt.Fprintf(out, "Usercode:      0x%08X\n", im.Usercode)
	fmt.Fprintf(out, "Checksum:      0x%04X (ok)\n", im.Checksum)
	if im.FeatureRowBits != "" {
		fmt.Fprintf(out, "Feature row:   0x%X\n", im.FeatureRow)
		fmt.Fprintf(out, "FEAR bits:     0x%X\n", im.FEARBits)
	}
	return nil
}
