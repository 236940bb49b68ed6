package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/cpldupdate/internal/metrics"
	"github.com/OpenTraceLab/cpldupdate/internal/sim"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
	"github.com/OpenTraceLab/cpldupdate/pkg/cpld/lattice"
	"github.com/OpenTraceLab/cpldupdate/pkg/idcode"
	"github.com/OpenTraceLab/cpldupdate/pkg/updater"
)

// opFlags are the operations shared by the i2c and jtag commands.
type opFlags struct {
	program  string
	checksum string
	verify   string
	erase    bool
	version  bool
	idcode   bool
}

func (o *opFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.program, "program", "p", "", "program the image in `file`")
	f.StringVarP(&o.checksum, "checksum", "c", "", "compare the checksum of `file` with the device")
	f.StringVar(&o.verify, "verify", "", "verify the device against `file`")
	f.BoolVar(&o.erase, "erase", false, "erase the device")
	f.BoolVarP(&o.version, "get-cpld-version", "V", false, "print the CPLD version")
	f.BoolVarP(&o.idcode, "get-cpld-idcode", "i", false, "print the CPLD ID")
}

func (o opFlags) empty() bool {
	return o.program == "" && o.checksum == "" && o.verify == "" && !o.erase && !o.version && !o.idcode
}

// buses returns the simulated board when --simulate is set, the host buses
// otherwise.
func buses() (cpld.Buses, []updater.Option, error) {
	if simulate == "" {
		return updater.HostBuses{Adapter: profile.Adapter, Log: log}, nil, nil
	}
	b, err := sim.NewBoard(simulate)
	if err != nil {
		return nil, nil, err
	}
	// Simulated parts answer immediately.
	return b, []updater.Option{updater.WithSleep(func(time.Duration) {})}, nil
}

func dispatcherOptions(out io.Writer) ([]updater.Option, error) {
	opts := []updater.Option{
		updater.WithPoller(profile.Poller()),
		updater.WithProgress(progressPrinter(out)),
	}
	if profile.IDs.YZBB != "" {
		id, err := lattice.ParseID(profile.IDs.YZBB)
		if err != nil {
			return nil, err
		}
		opts = append(opts, updater.WithYZBBID(id))
	}
	if profile.IDs.Anlogic != "" {
		id, err := lattice.ParseID(profile.IDs.Anlogic)
		if err != nil {
			return nil, err
		}
		opts = append(opts, updater.WithAnlogicID(id))
	}
	return opts, nil
}

// progressPrinter prints one line per finished phase.
func progressPrinter(out io.Writer) cpld.ProgressFunc {
	return func(p cpld.Progress) {
		if p.Total == 0 || p.Done != p.Total {
			return
		}
		if p.Region != "" {
			fmt.Fprintf(out, "  %-7s %-5s %d/%d\n", p.Phase, p.Region, p.Done, p.Total)
		} else {
			fmt.Fprintf(out, "  %-7s %d/%d\n", p.Phase, p.Done, p.Total)
		}
	}
}

func printID(out io.Writer, id []byte) {
	if len(id) == 4 {
		fmt.Fprintf(out, "CPLD IDCODE: %s\n", idcode.Parse(uint32(id[0])<<24|uint32(id[1])<<16|uint32(id[2])<<8|uint32(id[3])))
		return
	}
	fmt.Fprintf(out, "CPLD ID: %s (%q)\n", cpld.FormatID(id), id)
}

// warnExit reports a failed exit from programming mode. The operation
// itself completed, so it does not fail the run.
func warnExit(out io.Writer, err error) error {
	if errors.Is(err, cpld.ErrExitProgramMode) {
		fmt.Fprintf(out, "warning: %v\n", err)
		return nil
	}
	return err
}

// runSession runs probe, scan, the requested operations and close, then
// prints the PASS or FAIL banner.
func runSession(cmd *cobra.Command, intf cpld.Interface, p cpld.Params, ops opFlags) (err error) {
	out := cmd.OutOrStdout()
	if ops.empty() {
		return errors.New("no operation given (see --help)")
	}
	defer func() {
		if err != nil {
			fmt.Fprintf(out, "FAIL: %v\n", err)
		} else {
			fmt.Fprintln(out, "PASS")
		}
		if metricsFile != "" {
			if werr := metrics.WriteTextfile(metricsFile); werr != nil {
				log.Error(werr, "metrics not written")
			}
		}
	}()

	b, simOpts, err := buses()
	if err != nil {
		return err
	}
	opts, err := dispatcherOptions(out)
	if err != nil {
		return err
	}
	d := updater.New(b, log, append(opts, simOpts...)...)

	if err := d.Probe(intf, p); err != nil {
		return err
	}
	defer func() {
		if cerr := d.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	desc, err := d.Scan()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Detected %s (%s)\n", desc.Name, desc.Family)

	if ops.version || ops.program != "" {
		v, err := d.Version()
		if err = warnExit(out, err); err != nil {
			if ops.version {
				return err
			}
			fmt.Fprintf(out, "CPLD version: unavailable (%v)\n", err)
		} else {
			fmt.Fprintf(out, "CPLD version: 0x%08X\n", v)
		}
	}
	if ops.idcode || ops.program != "" {
		id, err := d.DeviceID()
		if err != nil {
			if ops.idcode {
				return err
			}
			fmt.Fprintf(out, "CPLD ID: unavailable (%v)\n", err)
		} else {
			printID(out, id)
		}
	}
	if ops.erase {
		fmt.Fprintln(out, "Erasing...")
		if err := warnExit(out, d.Erase()); err != nil {
			return err
		}
	}
	if ops.program != "" {
		fmt.Fprintf(out, "Programming %s...\n", ops.program)
		if err := warnExit(out, d.Program(ops.program, "", false)); err != nil {
			return err
		}
	}
	if ops.verify != "" {
		fmt.Fprintf(out, "Verifying %s...\n", ops.verify)
		if err := warnExit(out, d.Verify(ops.verify)); err != nil {
			return err
		}
	}
	if ops.checksum != "" {
		c, err := d.Checksum(ops.checksum)
		if err = warnExit(out, err); err != nil {
			return err
		}
		fmt.Fprintf(out, "File checksum:   0x%04X\nDevice checksum: 0x%04X\n", c.File, c.Device)
		if err := c.Compare(); err != nil {
			return err
		}
	}
	return nil
}
