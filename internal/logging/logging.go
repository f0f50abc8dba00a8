// Package logging builds the process log writer and component loggers.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process log output.
type Options struct {
	// File, when set, receives a copy of every line and is rotated.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet drops component logs from stderr. The log file still gets them.
	Quiet bool

	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// Output is the shared writer behind every component logger.
type Output struct {
	w      io.Writer
	rotate *lumberjack.Logger
}

// Open builds the writer described by opts.
func Open(opts Options) (*Output, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if opts.Quiet {
		stderr = io.Discard
	}

	out := &Output{w: stderr}
	if opts.File == "" {
		return out, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, err
	}
	out.rotate = &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	if opts.Quiet {
		out.w = out.rotate
	} else {
		out.w = io.MultiWriter(stderr, out.rotate)
	}
	return out, nil
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Logger returns a logger for one component, prefixed "[component] ".
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Rotate closes the current log file and starts a new one.
func (o *Output) Rotate() error {
	if o.rotate == nil {
		return nil
	}
	return o.rotate.Rotate()
}

// Close flushes and closes the log file, if any.
func (o *Output) Close() error {
	if o.rotate == nil {
		return nil
	}
	return o.rotate.Close()
}
