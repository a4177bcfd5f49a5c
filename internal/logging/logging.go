// Package logging builds the zap logger used across ollamacord.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	fileMaxSizeMB  = 50
	fileMaxBackups = 3
)

// Options selects the logger's level, encoding and outputs.
type Options struct {
	// Level is a zap level name; empty means info.
	Level string
	// Format is "json" or "console"; empty means console.
	Format string
	// File, when set, receives a rotated copy of the log.
	File string
	// Verbose forces debug level.
	Verbose bool
	// Writer replaces stderr as the primary output.
	Writer io.Writer
}

// New builds a logger. The returned function flushes buffered entries and closes the
// log file; call it before exit.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	var out io.Writer = os.Stderr
	if opts.Writer != nil {
		out = opts.Writer
	}
	sinks := []zapcore.WriteSyncer{zapcore.Lock(zapcore.AddSync(out))}

	var file *lumberjack.Logger
	if opts.File != "" {
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
		}
		sinks = append(sinks, zapcore.AddSync(file))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zap.NewAtomicLevelAt(level))
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, func() {
		_ = logger.Sync()
		if file != nil {
			_ = file.Close()
		}
	}, nil
}
