package logger

import (
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New returns a slog front end over zap. The returned func flushes buffered
// entries and should be deferred by main.
func New(isProd bool) (*slog.Logger, func() error) {
	var zapLogger *zap.Logger

	if isProd {
		zapLogger = zap.Must(zap.NewProduction())
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapLogger = zap.Must(config.Build())
	}

	return slog.New(zapslog.NewHandler(zapLogger.Core())), zapLogger.Sync
}

// Nop discards everything; used by tests and library callers that pass nil.
func Nop() *slog.Logger {
	return slog.New(zapslog.NewHandler(zapcore.NewNopCore()))
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
