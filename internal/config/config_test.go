package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/cpldupdate/pkg/cpld"
)

const board = `
interface: i2c
bus: 7
slave: 0x40
frequency: 2000000
adapter: cmsis-dap
poll:
  attempts: 100
  interval: 2ms
ids:
  yzbb: "YZBB02856102"
`

func TestParse(t *testing.T) {
	got, err := Parse([]byte(board))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Profile{
		Interface: "i2c",
		Bus:       7,
		Slave:     0x40,
		Frequency: 2_000_000,
		Adapter:   AdapterCMSISDAP,
		Poll:      Poll{Attempts: 100, Interval: Duration(2 * time.Millisecond)},
		IDs:       IDs{YZBB: "YZBB02856102"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cpld.Params{Bus: 7, Slave: 0x40, Frequency: 2_000_000}, got.Params()); diff != "" {
		t.Errorf("Params (-want +got):\n%s", diff)
	}
	if pl := got.Poller(); pl.Attempts != 100 || pl.Interval != 2*time.Millisecond {
		t.Errorf("Poller = %+v", pl)
	}
}

func TestParseDefaults(t *testing.T) {
	got, err := Parse([]byte("bus: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Adapter != AdapterKernel || got.Poller() != cpld.DefaultPoller() {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bad interface", "interface: spi\n", "interface"},
		{"bad adapter", "adapter: ftdi\n", "adapter"},
		{"wide slave", "slave: 0x140\n", "7-bit"},
		{"bad duration", "poll:\n  interval: soon\n", "duration"},
		{"not yaml", "bus: [\n", "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse(%q) = %v, want error mentioning %q", tt.in, err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte(board), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Bus != 7 {
		t.Errorf("Bus = %d", p.Bus)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
