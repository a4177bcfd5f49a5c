package activity

import (
	"context"
	"fmt"
	"path/filepath"
)

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Options selects and configures a sink.
type Options struct {
	Enabled    bool
	Driver     string
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxOutput  int
}

// Open returns the sink described by opts, or Nop when activity logging is disabled.
func Open(ctx context.Context, opts Options) (Sink, error) {
	if !opts.Enabled {
		return Nop{}, nil
	}

	switch opts.Driver {
	case "", DriverFile:
		return NewFileSink(FileOptions{
			Dir:        opts.Dir,
			MaxSizeMB:  opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxOutput:  opts.MaxOutput,
		})
	case DriverSQLite:
		return OpenSQLite(ctx, filepath.Join(opts.Dir, DefaultDBName), opts.MaxOutput)
	default:
		return nil, fmt.Errorf("unknown activity driver %q", opts.Driver)
	}
}
