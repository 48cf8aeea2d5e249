package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New returns the console's structured logger: JSON lines on stdout,
// debug level outside production environments.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	switch appEnv {
	case "local", "dev", "test":
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

type ctxKey struct{}

// With stores a logger in context so downstream code inherits the
// request-scoped attributes.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the context logger, or slog.Default() when none was attached.
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ShutdownFlush gives main a hook to drain buffered sinks on shutdown.
// The JSON handler writes synchronously, so today this is a no-op.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
