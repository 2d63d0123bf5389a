// Package logging configures the standard library logger used across the service.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"harvestsync/internal/shared/config"
)

// Setup points the std logger at stdout and, when LOG_FILE is set, a rotating file.
// The returned closer flushes the file sink; it is a no-op without one.
func Setup(cfg config.LogConfig) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.Printf("Logging to stdout and %s (max %dMB, %d backups)", cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)

	return rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
