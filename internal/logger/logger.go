package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide logger. It is a no-op until InitLogger is called,
// which keeps library consumers and tests quiet by default.
var Log = zap.NewNop()

// InitLogger builds the global logger. Format is "json" or "console".
// When file is non-empty, output is written there with rotation instead of stderr.
func InitLogger(level, format, file string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch format {
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if file != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	Log = zap.New(zapcore.NewCore(enc, sink, lvl))
	return nil
}

// Sync flushes buffered log entries. Call from main on shutdown.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
