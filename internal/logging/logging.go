// Package logging builds the component loggers used across mindlog.
//
// Every component logs through a plain *log.Logger with a bracketed prefix
// ("[service] ", "[sync] "). A Factory decides where those loggers write:
// stderr, a size-rotated file, or both.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Factory.
type Options struct {
	// File is the log file path. Empty disables file output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Console receives log output besides the file; defaults to os.Stderr.
	// Quiet drops it.
	Console io.Writer
	Quiet   bool
}

// Factory hands out component loggers sharing one destination.
type Factory struct {
	out  io.Writer
	file *lumberjack.Logger

	mu     sync.Mutex
	closed bool
}

// Setup creates a Factory. The log file's directory is created if needed.
func Setup(opts Options) (*Factory, error) {
	var writers []io.Writer
	if !opts.Quiet {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		writers = append(writers, console)
	}

	f := &Factory{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, f.file)
	}

	switch len(writers) {
	case 0:
		f.out = io.Discard
	case 1:
		f.out = writers[0]
	default:
		f.out = io.MultiWriter(writers...)
	}
	return f, nil
}

// Discard returns a Factory whose loggers write nowhere.
func Discard() *Factory {
	return &Factory{out: io.Discard}
}

// New returns a logger for component, prefixed "[component] ".
func (f *Factory) New(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags|log.Lmsgprefix)
}

// Writer is the shared destination.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Rotate closes the current log file and starts a new one.
func (f *Factory) Rotate() error {
	if f.file == nil {
		return nil
	}
	return f.file.Rotate()
}

// Close closes the log file. Loggers keep working afterwards; lumberjack
// reopens the file on the next write, so Close belongs at process exit.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil || f.closed {
		return nil
	}
	f.closed = true
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
