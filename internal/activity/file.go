package activity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures a FileSink.
type FileOptions struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxOutput  int
}

// FileSink writes one line per entry to a size-rotated file:
//
//	2024-01-02 15:04:05 | [SUCCESS] USER_ID=1 USERNAME=bob GUILD=DM MODEL=llama3 | INPUT: hi | OUTPUT: hello
type FileSink struct {
	logger    *zap.Logger
	rotator   *lumberjack.Logger
	maxOutput int
}

// NewFileSink creates the directory if needed and opens the activity log inside it.
func NewFileSink(opts FileOptions) (*FileSink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("activity log directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating activity log directory: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, DefaultFileName),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		MessageKey:       "message",
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		ConsoleSeparator: " | ",
	})
	core := zapcore.NewCore(encoder, zapcore.AddSync(rotator), zapcore.InfoLevel)

	return &FileSink{
		logger:    zap.New(core),
		rotator:   rotator,
		maxOutput: opts.MaxOutput,
	}, nil
}

// Path returns the active log file.
func (s *FileSink) Path() string {
	return s.rotator.Filename
}

// Record implements Sink.
func (s *FileSink) Record(_ context.Context, e Entry) error {
	s.logger.Info(Format(e, s.maxOutput))
	return nil
}

// Close flushes and closes the log file.
func (s *FileSink) Close() error {
	_ = s.logger.Sync()
	return s.rotator.Close()
}

var _ Sink = (*FileSink)(nil)
