// Package logging builds the zerolog loggers used across the CLI.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Build collects logger settings. The zero value logs info and above to
// stderr in console format.
type Build struct {
	writer io.Writer
	path   string
	level  string
	format string
}

// Data is a constructed logger plus the file it writes to, if any.
type Data struct {
	Logger  zerolog.Logger
	LogFile *os.File
}

func New() *Build {
	return &Build{}
}

// FromPath appends log lines to the file at path.
func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

// FromWriter logs to w instead of stderr.
func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

// Level sets the minimum level by name ("debug", "info", ...).
func (b *Build) Level(level string) *Build {
	b.level = level
	return b
}

// Format selects "console" (default) or "json" output.
func (b *Build) Format(format string) *Build {
	b.format = format
	return b
}

func (b *Build) Make() (*Data, error) {
	d := new(Data)
	w := b.writer
	if w == nil {
		w = os.Stderr
	}
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", b.path, err)
		}
		d.LogFile = f
		w = zerolog.SyncWriter(f)
	}
	switch b.format {
	case "", "console":
		if b.path == "" {
			w = zerolog.ConsoleWriter{Out: w, NoColor: b.writer != nil}
		}
	case "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", b.format)
	}
	level := zerolog.InfoLevel
	if b.level != "" {
		l, err := zerolog.ParseLevel(b.level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	d.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return d, nil
}

// Close closes the log file, if any.
func (d *Data) Close() error {
	if d.LogFile == nil {
		return nil
	}
	return d.LogFile.Close()
}
