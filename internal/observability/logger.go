// Package observability owns process-wide logging.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

// CLILogger is the process logger. It discards output until Init or
// InitCLILogger runs.
var CLILogger = zap.NewNop()

type LoggingConfig struct {
	Level   string
	Profile string
}

// Init builds the process logger from cfg, installs it as CLILogger and
// returns it. The structured profile writes JSON; console writes
// human-readable lines.
func Init(service string, cfg LoggingConfig) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Profile)) {
	case "", ProfileStructured:
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case ProfileConsole:
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown logging profile %q", cfg.Profile)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if service != "" {
		logger = logger.With(zap.String("service", service))
	}
	CLILogger = logger
	return logger, nil
}

// InitCLILogger installs a console logger for one-shot commands. Info is
// the floor unless verbose is set.
func InitCLILogger(service string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	if _, err := Init(service, LoggingConfig{Level: level, Profile: ProfileConsole}); err != nil {
		CLILogger = zap.NewNop()
	}
}

func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// Sync flushes CLILogger, ignoring the errors some terminals report.
func Sync() {
	_ = CLILogger.Sync()
}
