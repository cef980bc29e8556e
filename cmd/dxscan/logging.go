package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging installs the default slog logger. The returned closer flushes
// the log file, if any.
func setupLogging(cfg config.LogConfig, debug bool) io.Closer {
	level := parseLevel(cfg.Level)
	if debug {
		level = slog.LevelDebug
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
