package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

// Rotation configures the rotating log file.
// An empty Filename disables file logging.
type Rotation struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, Rotation{}, false)
}

func New(level zapcore.LevelEnabler, rotation Rotation, json bool) *zap.Logger {
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	consoleSyncer := zapcore.Lock(os.Stdout)
	var cores []zapcore.Core
	cores = append(cores, zapcore.NewCore(encoder, consoleSyncer, level))

	if rotation.Filename != "" {
		maxSize := rotation.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 500
		}
		fileLogger := &lumberjack.Logger{
			Filename:   rotation.Filename,
			MaxSize:    maxSize,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     28,
			Compress:   true,
		}
		fs := zapcore.AddSync(fileLogger)
		cores = append(cores, zapcore.NewCore(encoder, fs, zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}

// Alert marks a log entry as requiring operator attention.
func Alert() zap.Field {
	return zap.Bool("alert", true)
}
