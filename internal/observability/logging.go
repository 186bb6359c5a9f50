// Package observability provides the relay's structured logger and Prometheus metrics.
package observability

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/relay/internal/config"
)

// samplingTick is the window over which identical log entries are counted.
const samplingTick = time.Second

// NewLogger creates a structured logger from the given logging configuration.
// When sampling is enabled, entries with the same level and message beyond
// Initial per second are thinned to every Thereafter-th one.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	enc, stackLevel, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("opening log output %q: %w", output, err)
	}

	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(level))
	if s := cfg.Sampling; s.Initial > 0 {
		core = zapcore.NewSamplerWithOptions(core, samplingTick, s.Initial, s.Thereafter)
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(stackLevel),
		zap.ErrorOutput(sink),
		zap.Fields(zap.String("component", "relay")),
	), nil
}

func newEncoder(format string) (zapcore.Encoder, zapcore.Level, error) {
	switch format {
	case "json":
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(ec), zapcore.ErrorLevel, nil
	case "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(ec), zapcore.WarnLevel, nil
	default:
		return nil, 0, fmt.Errorf("unknown log format %q", format)
	}
}
