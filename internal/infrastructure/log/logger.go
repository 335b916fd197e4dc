// Package log wraps the process-wide zap logger with ECS encoding.
package log

import (
	"strings"
	"sync"

	"github.com/okieraised/relay-controller/internal/config"
	"github.com/spf13/viper"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

var (
	defaultOnce   sync.Once
	defaultLogger *zap.Logger
	defaultErr    error
)

// logLevel reads controller.log_level. Unknown or empty values mean info.
func logLevel() zap.AtomicLevel {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(viper.GetString(config.ControllerLogLevel)))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	return zap.NewAtomicLevelAt(lvl)
}

func DefaultConfig() zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig = ecszap.ECSCompatibleEncoderConfig(cfg.EncoderConfig)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.Level = logLevel()
	return cfg
}

// InitDefault builds the default logger once. Later calls return the first result.
func InitDefault(opts ...zap.Option) error {
	defaultOnce.Do(func() {
		defaultLogger, defaultErr = DefaultConfig().Build(opts...)
		if defaultErr != nil {
			defaultLogger = zap.NewNop()
		}
	})
	return defaultErr
}

func Default() *Logger {
	if defaultLogger == nil {
		_ = InitDefault()
	}
	return &Logger{defaultLogger}
}

func Sync() error {
	if defaultLogger != nil {
		return defaultLogger.Sync()
	}
	return nil
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// Component returns a named child of the default logger tagged with the controller id.
func Component(name string) *Logger {
	lg := Default().Named(name)
	if id := viper.GetString(config.ControllerID); id != "" {
		lg = lg.With(zap.String("controller_id", id))
	}
	return lg
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap.NewNop()}
}
