package config

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/entitystore/internal/harness"
	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/store"
)

var logLevels = map[string]zapcore.Level{
	"debug":   zap.DebugLevel,
	"info":    zap.InfoLevel,
	"warn":    zap.WarnLevel,
	"warning": zap.WarnLevel,
	"error":   zap.ErrorLevel,
}

// NewLogger builds a zap logger writing to w at the configured level.
// The console format uses the development encoder, json the production one.
func (c *Config) NewLogger(w io.Writer) (*zap.Logger, error) {
	level, ok := logLevels[strings.ToLower(c.LogLevel)]
	if !ok {
		return nil, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if c.LogFormat == "json" {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		encCfg.ConsoleSeparator = "  "
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	return zap.New(core), nil
}

// UseLogger installs logger in every package that logs.
func UseLogger(logger *zap.Logger) {
	store.UseLogger(logger.Named("store"))
	layout.UseLogger(logger.Named("layout"))
	harness.UseLogger(logger.Named("harness"))
}
