// Package watcher provides file system watchers for workspace folders.
//
// A FileSystemWatcher watches a directory tree for files whose base name
// matches a glob and reports create, change and delete events to registered
// handlers. Rapid changes to the same path are coalesced into one event.
package watcher

import (
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrPathNotExist  = errors.New("path does not exist")
	ErrNotDirectory  = errors.New("path is not a directory")
	ErrInvalidGlob   = errors.New("invalid glob pattern")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file was created.
	OpCreate Op = 1 << iota
	// OpChange indicates a file was written to.
	OpChange
	// OpDelete indicates a file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpChange:
		return "CHANGE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event represents a file system change event.
type Event struct {
	// Path is the absolute path of the affected file.
	Path string

	// Op is the operation that occurred.
	Op Op

	// Timestamp is when the event was delivered.
	Timestamp time.Time
}

// Handler is a function that handles file system events.
type Handler func(event Event)

// ErrorHandler is a function that handles watcher errors.
type ErrorHandler func(err error)

// Config holds watcher configuration options.
type Config struct {
	// DebounceDelay is the delay before delivering events.
	// Events for the same path within this window are coalesced.
	// Default: 100ms
	DebounceDelay time.Duration

	// IgnorePatterns are gitignore-style patterns for paths to ignore.
	IgnorePatterns []string

	// ErrorHandler receives errors from the underlying watcher.
	ErrorHandler ErrorHandler
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:  100 * time.Millisecond,
		IgnorePatterns: DefaultIgnorePatterns,
	}
}

// Option configures a watcher.
type Option func(*Config)

// WithDebounceDelay sets the debounce delay.
func WithDebounceDelay(d time.Duration) Option {
	return func(c *Config) {
		c.DebounceDelay = d
	}
}

// WithIgnorePatterns sets the ignore patterns, replacing the defaults.
func WithIgnorePatterns(patterns []string) Option {
	return func(c *Config) {
		c.IgnorePatterns = patterns
	}
}

// WithErrorHandler sets the error handler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}
