package logutils

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	rootLogger   = zap.NewNop()
	rootLoggerMu sync.RWMutex
)

// LogSettings defines the logging configuration of a process.
type LogSettings struct {
	Enabled         bool   `json:"Enabled"`
	Level           string `json:"Level" validate:"omitempty,eq=ERROR|eq=WARN|eq=INFO|eq=DEBUG"`
	File            string `json:"File,omitempty"`
	MaxSize         int    `json:"MaxSize"`
	MaxBackups      int    `json:"MaxBackups"`
	CompressRotated bool   `json:"CompressRotated"`
}

// ZapLogger returns the process wide logger. It is a no-op logger until
// OverrideRootLogWithConfig is called.
func ZapLogger() *zap.Logger {
	rootLoggerMu.RLock()
	defer rootLoggerMu.RUnlock()
	return rootLogger
}

// OverrideRootLogWithConfig replaces the process wide logger.
func OverrideRootLogWithConfig(settings LogSettings) error {
	logger, err := NewZapLogger(settings)
	if err != nil {
		return err
	}

	rootLoggerMu.Lock()
	old := rootLogger
	rootLogger = logger
	rootLoggerMu.Unlock()

	_ = old.Sync()
	return nil
}

// NewZapLogger builds a JSON zap logger writing either to stderr or to a
// rotated file.
func NewZapLogger(settings LogSettings) (*zap.Logger, error) {
	if !settings.Enabled {
		return zap.NewNop(), nil
	}

	level, err := ParseLevel(settings.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	if settings.File != "" {
		sink = ZapSyncerWithRotation(FileOptions{
			Filename:   settings.File,
			MaxSize:    settings.MaxSize,
			MaxBackups: settings.MaxBackups,
			Compress:   settings.CompressRotated,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

// ParseLevel converts status-style level names (ERROR, WARN, INFO, DEBUG)
// into zap levels. Empty string means INFO.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(level) {
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "DEBUG", "TRACE":
		return zapcore.DebugLevel, nil
	case "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// OrDefault returns logger when it is set, the root logger otherwise.
func OrDefault(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return ZapLogger()
}
