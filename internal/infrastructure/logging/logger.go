package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "spraycell"

// Logger is a slog.Logger carrying the service and version attributes.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger for cfg, writing to stderr when cfg.Output says so
// and to stdout otherwise.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(w, cfg, version)
}

// NewWithWriter creates a Logger writing to w; cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

// parseLevel accepts slog level names ("debug", "WARN+2", ...) and the
// alias "warning". Anything else is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// With returns a Logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithSite tags entries with the cell id.
func (l *Logger) WithSite(siteID string) *Logger {
	return l.With("site", siteID)
}

// Component scopes a Logger to a subsystem:
//
//	logger.Component("tags").Warn("tag stale", "tag", name) // component=tags
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is used before config is loaded: JSON on stdout at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard returns a Logger that drops every entry.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}
