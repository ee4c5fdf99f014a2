// Package logger wraps zerolog with the worker's output and level settings.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig selects level, format ("json" or "text") and output
// ("stdout", "stderr" or a file path).
type LogConfig struct {
	Level  string
	Format string
	Output string
}

type runIDKey struct{}

// WithRunID attaches the id of the current ingestion run to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id stored by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

var globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the global logger. It returns an error only when the
// output file cannot be opened.
func Init(cfg LogConfig) error {
	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", cfg.Output, err)
		}
		out = f
	}

	if cfg.Format == "text" {
		out = zerolog.ConsoleWriter{Out: out}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	globalLogger = zerolog.New(out).With().Timestamp().Logger()
	log.Logger = globalLogger
	return nil
}

// SetOutput replaces the global logger with one writing JSON to w.
// Tests use it to capture log lines.
func SetOutput(w io.Writer) {
	globalLogger = zerolog.New(w).With().Timestamp().Logger()
	log.Logger = globalLogger
}

// FromContext returns the global logger, tagged with the run id when ctx
// carries one.
func FromContext(ctx context.Context) *zerolog.Logger {
	if id := RunIDFromContext(ctx); id != "" {
		l := globalLogger.With().Str("run_id", id).Logger()
		return &l
	}
	return &globalLogger
}

func Debug() *zerolog.Event { return globalLogger.Debug() }
func Info() *zerolog.Event  { return globalLogger.Info() }
func Warn() *zerolog.Event  { return globalLogger.Warn() }
func Error() *zerolog.Event { return globalLogger.Error() }
func Fatal() *zerolog.Event { return globalLogger.Fatal() }

func DebugCtx(ctx context.Context) *zerolog.Event { return FromContext(ctx).Debug() }
func InfoCtx(ctx context.Context) *zerolog.Event  { return FromContext(ctx).Info() }
func WarnCtx(ctx context.Context) *zerolog.Event  { return FromContext(ctx).Warn() }
func ErrorCtx(ctx context.Context) *zerolog.Event { return FromContext(ctx).Error() }

// SubjectPrefix shortens a subject for log lines.
func SubjectPrefix(s string) string {
	r := []rune(s)
	if len(r) > 40 {
		return string(r[:40])
	}
	return s
}
