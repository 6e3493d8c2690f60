// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for firstboot.
//
// firstboot runs unattended on a machine that may reboot between stages,
// so logs go to two places:
//
//   - stderr (captured by the journal when run from a systemd unit)
//   - an optional JSON file under LogDir that survives reboots
//
// # Architecture
//
//	┌────────────────────────────────────────────────┐
//	│                    Logger                      │
//	│  ┌──────────────┐ ┌────────────┐ ┌──────────┐  │
//	│  │ stderr       │ │ log file   │ │ Exporter │  │
//	│  │ tint or text │ │ JSON       │ │ (tests)  │  │
//	│  └──────────────┘ └────────────┘ └──────────┘  │
//	└────────────────────────────────────────────────┘
//
// When stderr is a terminal the stderr handler is colourised with tint,
// otherwise it is plain slog text (or JSON when Config.JSON is set) so the
// journal stays greppable.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "/var/log/firstboot",
//	    Service: "firstboot",
//	})
//	defer logger.Close()
//
//	logger.Info("stage started", "stage", "network-bring-up")
//
// Components take a *slog.Logger; pass logger.Slog() to them.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels.
//
// Levels are ordered by severity: Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for collaborator command lines and probe details.
	LevelDebug Level = iota

	// LevelInfo is for stage transitions and recovery outcomes.
	LevelInfo

	// LevelWarn is for failed stages that will be recovered.
	LevelWarn

	// LevelError is for exhausted recovery and persistence failures.
	LevelError
)

// String returns the human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string into a Level.
//
// Accepts "debug", "info", "warn"/"warning" and "error" in any case.
// Unknown values return LevelInfo and an error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger behavior.
//
// A zero-value Config writes Info+ messages to stderr.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to "{Service}_{YYYY-MM-DD}.log" in JSON.
	// Supports ~ expansion. Default: "" (disabled).
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON switches the non-terminal stderr handler to JSON.
	JSON bool

	// Stderr overrides the stderr destination. Default: os.Stderr.
	Stderr io.Writer

	// Exporter receives a copy of every record at or above Level, including
	// records logged through Slog() and loggers derived from it.
	Exporter LogExporter
}

// LogExporter receives log entries in addition to the slog handlers.
//
// Export is called synchronously from the logging goroutine, so entries
// arrive in the order they were logged.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry represents a structured log entry for export.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
type Logger struct {
	slog     *slog.Logger
	file     *os.File
	exporter LogExporter
	mu       sync.Mutex
}

// New creates a new Logger with the given configuration.
//
// File logging failures are not fatal: if LogDir cannot be created or
// opened, the logger falls back to stderr only. Call Close to flush.
func New(config Config) *Logger {
	level := config.Level.toSlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	stderr := config.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	handlers := []slog.Handler{stderrHandler(stderr, config.JSON, level)}

	logger := &Logger{exporter: config.Exporter}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "firstboot"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			file, err := os.OpenFile(filepath.Join(logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	if config.Exporter != nil {
		handlers = append(handlers, &exportHandler{
			exporter: config.Exporter,
			level:    level,
			service:  config.Service,
		})
	}

	handler := handlers[0]
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// stderrHandler picks tint for terminals and plain slog otherwise.
func stderrHandler(w io.Writer, asJSON bool, level slog.Level) slog.Handler {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}
	opts := &slog.HandlerOptions{Level: level}
	if asJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }

// Info logs a message at Info level.
func (l *Logger) Info(msg string, args ...any) { l.log(LevelInfo, msg, args...) }

// Warn logs a message at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.log(LevelWarn, msg, args...) }

// Error logs a message at Error level.
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter and syncs and closes the log file.
//
// Returns the first error encountered.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		l.file = nil
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (l *Logger) log(level Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// fromSlogLevel maps an slog level onto the nearest Level.
func fromSlogLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// =============================================================================
// Export Handler (Internal)
// =============================================================================

// exportHandler adapts a LogExporter to slog.Handler so that every record
// reaching the Logger, whichever slog.Logger produced it, is exported.
type exportHandler struct {
	exporter LogExporter
	level    slog.Level
	service  string
	attrs    []slog.Attr
	group    string
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *exportHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = a.Value.Resolve().Any()
		return true
	})
	return h.exporter.Export(ctx, LogEntry{
		Timestamp: r.Time,
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	})
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &next
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.key(name)
	return &next
}

// key qualifies an attribute key with the open group, if any.
func (h *exportHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// BufferedExporter collects log entries in memory for tests.
//
//	exporter := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Stderr: io.Discard, Exporter: exporter})
//	logger.Slog().Info("stage started", "stage", "source-acquire")
//	entries := exporter.Entries()
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates a new BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{entries: make([]LogEntry, 0, 64)}
}

// Export adds the entry to the buffer.
func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Flush is a no-op.
func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of all collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]LogEntry, len(e.entries))
	copy(result, e.entries)
	return result
}

var _ LogExporter = (*BufferedExporter)(nil)
