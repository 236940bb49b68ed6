// Package logging builds the logr.Logger every cpldupdate package logs
// through, backed by zap.
package logging

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options selects the encoder and how much of the V-level tracing is kept.
// Verbosity 1 adds per-step protocol tracing, 2 adds row payloads and raw
// bus transfers.
type Options struct {
	Format    string
	Verbosity int
	Out       io.Writer
}

// New returns a logger writing to o.Out.
func New(o Options) (logr.Logger, error) {
	var enc zapcore.Encoder
	switch o.Format {
	case "", FormatConsole:
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return logr.Discard(), fmt.Errorf("logging: unknown format %q", o.Format)
	}
	if o.Verbosity < 0 {
		o.Verbosity = 0
	}
	// zapr logs V(n) at zap level -n.
	level := zap.NewAtomicLevelAt(zapcore.Level(-o.Verbosity))
	core := zapcore.NewCore(enc, zapcore.AddSync(o.Out), level)
	return zapr.NewLogger(zap.New(core)), nil
}
