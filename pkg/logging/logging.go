// Package logging builds the zap loggers used by the storage core.
// Components receive a *zap.Logger explicitly rather than reaching for a
// process-wide instance, which keeps test fixtures isolated.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Empty means info.
	Level string `yaml:"level"`

	// OutputPath is a log file path. Empty means stderr.
	OutputPath string `yaml:"output_path"`

	// MaxSizeMB is the size at which a log file is rotated. Zero means 100.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to retain. Zero keeps all.
	MaxBackups int `yaml:"max_backups"`
}

// New builds a logger from the configuration. File output rotates via
// lumberjack; console output uses zap's production JSON encoding either way.
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var sink zapcore.WriteSyncer
	if cfg.OutputPath == "" {
		sink, _, err = zap.Open("stderr")
		if err != nil {
			return nil, fmt.Errorf("failed to open log sink: %w", err)
		}
	} else {
		maxSize := cfg.MaxSizeMB
		if maxSize == 0 {
			maxSize = 100
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core), nil
}

// Nop returns a logger that discards everything. Used as the default when a
// component is constructed without an explicit logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
