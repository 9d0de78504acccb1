package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mastercactapus/pickplace/fault"
)

// NewLogger returns a logger writing to stderr and appending to the
// configured log file, one timestamped line per event.
func NewLogger(cfg Log) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fault.Wrap(fault.Configuration, err, "log.level")
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.Encoding = "console"
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, err, "log")
	}
	return l, nil
}
