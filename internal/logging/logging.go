// Package logging builds the process logger and per-component children.
package logging

import (
	"io"

	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the given level.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: level == log.DebugLevel,
	})
}

// Setup installs a logger writing to w (normally stderr) as the process
// default. Debug lowers the level and turns on timestamps.
func Setup(w io.Writer, debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	l := New(w, level)
	log.SetDefault(l)
	return l
}

// For returns a child of the default logger tagged with component.
// Call it at use time so it picks up the level chosen by Setup.
func For(component string) *log.Logger {
	return log.Default().WithPrefix(component)
}
