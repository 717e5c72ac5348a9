// Package observability holds the CLI diagnostic logger.
package observability

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide diagnostic logger. It discards everything
// until InitCLILogger runs.
var CLILogger = zap.NewNop()

// Format selects the log encoder.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Options configures the CLI logger.
type Options struct {
	// Level is debug, info, warn or error. Default: info
	Level string

	Format Format

	// Output receives log lines. Default: os.Stderr
	Output io.Writer
}

// InitCLILogger installs a console logger on stderr named after service.
// verbose lowers the level to debug.
func InitCLILogger(service string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	CLILogger = NewLogger(service, Options{Level: level, Format: FormatConsole})
}

// Configure replaces CLILogger with one built from opts.
func Configure(service string, opts Options) *zap.Logger {
	CLILogger = NewLogger(service, opts)
	return CLILogger
}

// NewLogger builds a logger. Payload output never goes through it; it only
// writes to opts.Output.
func NewLogger(service string, opts Options) *zap.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	if opts.Format == FormatJSON {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "ts"
		ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.TimeKey = ""
		ec.CallerKey = ""
		ec.NameKey = ""
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), ParseLevel(opts.Level))
	return zap.New(core).Named(service)
}

// ParseLevel maps a level name to a zap level. Unknown names map to info.
func ParseLevel(name string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
