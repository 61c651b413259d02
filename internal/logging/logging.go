// Package logging builds the process logger: slog with a runtime level,
// JSON or text output on stderr and an optional rotating log file.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration. Format is "json",
// "text" or "auto"; auto picks text when the console is a terminal.
type Config struct {
	Level      string
	Format     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Rotation defaults for the log file.
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 14
)

// swapHandler delegates to an inner handler that can be replaced at
// runtime. Loggers derived with With keep following the swap because
// they share the same slot.
type swapHandler struct {
	slot  *atomic.Pointer[slog.Handler]
	attrs []slog.Attr
	group string
}

func (h *swapHandler) current() slog.Handler {
	inner := *h.slot.Load()
	if h.group != "" {
		inner = inner.WithGroup(h.group)
	}
	if len(h.attrs) > 0 {
		inner = inner.WithAttrs(h.attrs)
	}
	return inner
}

func (h *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*h.slot.Load()).Enabled(ctx, level)
}

func (h *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.current().Handle(ctx, r)
}

func (h *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *swapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

// Manager owns the logger lifecycle.
type Manager struct {
	level   *slog.LevelVar
	slot    *atomic.Pointer[slog.Handler]
	console io.Writer

	mu     sync.Mutex
	config Config
	file   *lumberjack.Logger
}

// NewManager creates a Manager writing to console (os.Stderr when nil)
// and returns it along with a ready-to-use logger.
func NewManager(cfg Config, console io.Writer) (*Manager, *slog.Logger) {
	if console == nil {
		console = os.Stderr
	}
	m := &Manager{
		level:   &slog.LevelVar{},
		slot:    &atomic.Pointer[slog.Handler]{},
		console: console,
	}
	m.apply(cfg)
	return m, slog.New(&swapHandler{slot: m.slot})
}

// Reconfigure applies cfg. The level changes in place; format or file
// changes rebuild the handler and reopen the file.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(cfg)
}

func (m *Manager) apply(cfg Config) {
	m.level.Set(ParseLevel(cfg.Level))

	rebuild := m.slot.Load() == nil ||
		cfg.Format != m.config.Format ||
		cfg.FilePath != m.config.FilePath ||
		cfg.MaxSizeMB != m.config.MaxSizeMB ||
		cfg.MaxBackups != m.config.MaxBackups ||
		cfg.MaxAgeDays != m.config.MaxAgeDays
	m.config = cfg
	if !rebuild {
		return
	}

	if m.file != nil {
		m.file.Close() //nolint:errcheck
		m.file = nil
	}
	w := m.console
	if cfg.FilePath != "" {
		m.file = newRotatingFile(cfg)
		w = io.MultiWriter(m.console, m.file)
	}
	h := buildHandler(w, m.level, ResolveFormat(cfg.Format, m.console))
	m.slot.Store(&h)
}

// SetLevel changes only the level.
func (m *Manager) SetLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Level = level
	m.level.Set(ParseLevel(level))
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

func newRotatingFile(cfg Config) *lumberjack.Logger {
	size, backups, age := cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays
	if size <= 0 {
		size = DefaultMaxSizeMB
	}
	if backups <= 0 {
		backups = DefaultMaxBackups
	}
	if age <= 0 {
		age = DefaultMaxAgeDays
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    size,
		MaxBackups: backups,
		MaxAge:     age,
	}
}

// ResolveFormat turns "auto" into "text" when w is a terminal and "json"
// otherwise. Other values are returned unchanged.
func ResolveFormat(format string, w io.Writer) string {
	if format != "auto" {
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel converts a level name to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
