// Package tap provides centralized logging for the autobridge daemon.
//
// Log lines are fanned out to the configured log file and to stderr. The
// file side can be reopened when a config reload changes the log path; if
// the file cannot be opened, logging degrades to stderr only.
package tap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// contextKey is used for storing the logger in context
type contextKey struct{}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// Logger returns the logger from the context, or the process default logger
// if none is set. It never returns nil.
func Logger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// Sink is the shared write target for the daemon's logger: the log file
// (when it can be opened) plus stderr. It is safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewSink opens the log file at path for appending. Open failure is not an
// error: the sink falls back to stderr only and reports the failure there.
func NewSink(path string) *Sink {
	s := &Sink{}
	if err := s.Reopen(path); err != nil {
		fmt.Fprintf(os.Stderr, "tap: cannot open log file %s: %v\n", path, err)
	}
	return s
}

// Write writes p to the log file (if open) and to stderr.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.file != nil {
		s.file.Write(p)
	}
	s.mu.Unlock()
	return os.Stderr.Write(p)
}

// Reopen closes the current log file and opens path for appending. On
// failure the previous file stays closed and the sink is stderr-only until
// the next successful Reopen.
func (s *Sink) Reopen(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.path = path
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

// Path returns the path the sink currently logs to.
func (s *Sink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Close releases the log file. The sink keeps writing to stderr.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// New builds the daemon logger writing to sink at the given level.
func New(sink *Sink, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				t := a.Value.Time()
				a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05.000"))
			}
			return a
		},
	})
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
