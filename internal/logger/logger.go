// Package logger builds the zap logger used across taskflow.
package logger

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ldi/taskflow/internal/config"
)

type options struct {
	info  zapcore.WriteSyncer
	errs  zapcore.WriteSyncer
	watch bool
}

type Option func(*options)

// WithWriters overrides the low and high priority outputs. The MCP server
// needs both on stderr since stdout carries the protocol.
func WithWriters(info, errs zapcore.WriteSyncer) Option {
	return func(o *options) {
		o.info = info
		o.errs = errs
	}
}

// WithoutWatch disables the config file watch.
func WithoutWatch() Option {
	return func(o *options) { o.watch = false }
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
	return cfg
}

// Build sets up the base logger: info and below go to stdout, errors to
// stderr. The returned level follows logger.level in the config file while
// it is watched.
func Build(cfg config.LoggerConfig, opts ...Option) (*zap.Logger, zap.AtomicLevel, error) {
	o := options{info: os.Stdout, errs: os.Stderr, watch: true}
	for _, opt := range opts {
		opt(&o)
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, level, err
	}

	encoder := zapcore.NewJSONEncoder(encoderConfig())
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig())
	}

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return level.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, o.info, lowPriority),
		zapcore.NewCore(encoder, o.errs, highPriority),
	)
	log := zap.New(core, zap.AddCaller())

	if o.watch && viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(in fsnotify.Event) {
			if in.Op&fsnotify.Create == 0 {
				SetLevel(log, level, viper.GetString("logger.level"))
			}
		})
		viper.WatchConfig()
	}
	return log, level, nil
}

// SetLevel changes the logger level dynamically
func SetLevel(log *zap.Logger, level zap.AtomicLevel, value string) {
	l, err := zapcore.ParseLevel(value)
	if err != nil {
		log.Error("Couldn't parse level", zap.Error(err))
		return
	}
	if level.Level() == l {
		return
	}
	level.SetLevel(l)
	log.Info("Atomic level updated", zap.String("value", value))
}
