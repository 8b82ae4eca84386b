package log

import (
	"io"
	"log/slog"
	"os"
)

// New returns the engine's standard JSON logger at info level, tagged
// with the service identity
func New(service, env, version string) *slog.Logger {
	return NewWithLevel(service, env, version, slog.LevelInfo)
}

// NewWithLevel returns a JSON logger writing to stdout at the given level
func NewWithLevel(
	service, env, version string, lvl slog.Level,
) *slog.Logger {
	return newLogger(os.Stdout, service, env, version, lvl)
}

func newLogger(
	w io.Writer, service, env, version string, lvl slog.Level,
) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With(
		slog.String("service", service),
		slog.String("env", env),
		slog.String("version", version),
	)
}
