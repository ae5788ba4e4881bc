package agentcore

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts go.uber.org/zap to the Logger interface. The
// sugared form keeps call sites on plain key/value pairs, matching
// how the pipeline logs.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap.Logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger.Sugar()}
}

// NewZapLoggerFromSugar wraps an already-sugared logger.
func NewZapLoggerFromSugar(logger *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// NewProductionZapLogger builds the JSON logger the daemon runs with:
// ISO8601 timestamps under "timestamp" and the level read from the
// LOG_LEVEL environment variable (debug, info, warn, error).
func NewProductionZapLogger() (*ZapLogger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if level, err := zapcore.ParseLevel(raw); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

// NewDevelopmentZapLogger builds a console logger for local runs.
func NewDevelopmentZapLogger() (*ZapLogger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debugw(msg, fields...)
}

func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Infow(msg, fields...)
}

func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warnw(msg, fields...)
}

func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Errorw(msg, fields...)
}

// Sync flushes buffered entries; the daemon defers it on shutdown.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
