package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the minimum level and output format of the logger.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Logger is a structured logger that writes to the console.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger writing to stdout.
func NewLogger(cfg Config) *Logger {
	return New(os.Stdout, cfg)
}

// New creates a Logger writing to w.
func New(w io.Writer, cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return New(io.Discard, Config{Level: "error"})
}

// With returns a Logger that includes the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithComponent tags records with the emitting component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.With("component", component)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
