// Package logging builds the daemon's zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/msageha/statusd/internal/model"
)

const FileName = "daemon.log"

// ParseLevel maps a config level to zap. Unknown values fall back to info.
func ParseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info", "":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// New builds a logger writing to <dir>/logs/daemon.log, stdout or both,
// as cfg.Output selects. File output rotates through lumberjack.
func New(cfg model.LoggingConfig, dir string) (*zap.Logger, zap.AtomicLevel, error) {
	lvl, ok := ParseLevel(cfg.Level)
	level := zap.NewAtomicLevelAt(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	switch cfg.Output {
	case "console", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "both", "all":
		fileWS, err := fileSyncer(cfg, dir)
		if err != nil {
			return nil, level, err
		}
		ws = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), fileWS)
	default:
		fileWS, err := fileSyncer(cfg, dir)
		if err != nil {
			return nil, level, err
		}
		ws = fileWS
	}

	logger := zap.New(zapcore.NewCore(enc, ws, level), zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel))
	if !ok {
		logger.Sugar().Warnf("invalid_log_level level=%q using=info", cfg.Level)
	}
	return logger, level, nil
}

func fileSyncer(cfg model.LoggingConfig, dir string) (zapcore.WriteSyncer, error) {
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}), nil
}
