package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects logger level, encoding and the service name stamped on every entry.
type Options struct {
	Level   string
	Format  string
	Service string
}

// NewLogger configures a zap logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(service string) (*zap.Logger, error) {
	return New(Options{
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  os.Getenv("LOG_FORMAT"),
		Service: service,
	})
}

// New builds the logger. Unknown levels fall back to info; format is json unless "console".
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(ParseLevel(opts.Level)),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding:         "json",
		EncoderConfig:    encoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if service := strings.TrimSpace(opts.Service); service != "" {
		cfg.InitialFields = map[string]interface{}{"service": service}
	}

	return cfg.Build()
}

// ParseLevel maps a level name to zapcore, falling back to info.
func ParseLevel(raw string) zapcore.Level {
	var level zapcore.Level
	if err := level.Set(strings.ToLower(strings.TrimSpace(raw))); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// utcTimeEncoder writes entry times as RFC 3339 in UTC.
func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}
