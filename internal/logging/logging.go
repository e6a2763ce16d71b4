// Package logging builds the component loggers used across rs.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/falcon/restaurants/internal/config"
)

// Output returns the writer loggers share: stderr, or a size-rotated file
// when cfg.File is set.
func Output(cfg config.LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// Set creates one logger per component prefix, all writing to the same
// output so a rotated file is never opened twice.
type Set struct {
	out   io.Writer
	flags int
}

// NewSet creates a logger set for cfg.
func NewSet(cfg config.LogConfig) *Set {
	flags := log.LstdFlags
	if cfg.File != "" {
		flags = log.Ldate | log.Ltime | log.Lmicroseconds
	}
	return &Set{out: Output(cfg), flags: flags}
}

// Logger returns a logger with the given component prefix, e.g. "[sync] ".
func (s *Set) Logger(prefix string) *log.Logger {
	return log.New(s.out, prefix, s.flags)
}

// Close releases the rotated log file, if any.
func (s *Set) Close() error {
	if c, ok := s.out.(io.Closer); ok && s.out != os.Stderr {
		return c.Close()
	}
	return nil
}

// New returns a single component logger for cfg.
func New(cfg config.LogConfig, prefix string) *log.Logger {
	return NewSet(cfg).Logger(prefix)
}
