package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/storyline-backend/pkg/env"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
)

const redactedValue = "[redacted]"

// Field keys that never reach the log sink in clear text.
var defaultRedacted = []string{
	"admin_token",
	"authorization",
	"client_secret",
	"device_token",
	"fingerprint_secret",
	"stripe_signature",
}

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	WarnStack   bool
	Output      io.Writer
	// Format is "json" or "console"; empty falls back to STORYLINE_LOG_FORMAT.
	Format string
	// Redact masks additional field keys on top of the defaults.
	Redact []string
}

type Logger struct {
	base      *zerolog.Logger
	warnStack bool
	redact    map[string]struct{}
}

type ctxKey struct{}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = env.Get("STORYLINE_LOG_FORMAT", "json")
	}
	if format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	base := zerolog.New(output).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger().
		Level(opts.Level)

	redact := make(map[string]struct{}, len(defaultRedacted)+len(opts.Redact))
	for _, key := range append(defaultRedacted, opts.Redact...) {
		redact[strings.ToLower(key)] = struct{}{}
	}

	return &Logger{base: &base, warnStack: opts.WarnStack, redact: redact}
}

func ParseLevel(value string) zerolog.Level {
	levelString := strings.ToLower(strings.TrimSpace(value))
	if levelString == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(levelString); err == nil {
		return lvl
	}
	return zerolog.InfoLevel
}

func (l *Logger) loggerFromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return l.base
	}
	if entry, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
		return entry
	}
	return l.base
}

func (l *Logger) attach(ctx context.Context, entry zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, &entry)
}

func (l *Logger) mask(key string, value any) any {
	if _, ok := l.redact[strings.ToLower(key)]; ok {
		return redactedValue
	}
	return value
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	entry := l.loggerFromContext(ctx)
	return l.attach(ctx, entry.With().Interface(key, l.mask(key, value)).Logger())
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	masked := make(map[string]any, len(fields))
	for k, v := range fields {
		masked[k] = l.mask(k, v)
	}
	entry := l.loggerFromContext(ctx)
	return l.attach(ctx, entry.With().Fields(masked).Logger())
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithPaymentReference(ctx context.Context, ref string) context.Context {
	return l.WithField(ctx, "payment_reference", ref)
}

func (l *Logger) WithWordID(ctx context.Context, wordID string) context.Context {
	return l.WithField(ctx, "word_id", wordID)
}

func (l *Logger) WithJob(ctx context.Context, job string) context.Context {
	return l.WithField(ctx, "job", job)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.loggerFromContext(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.loggerFromContext(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.loggerFromContext(ctx).Warn()
	if l.warnStack {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

// Error logs err with a stack. Client-caused typed errors (validation, stale
// state, throttling) are downgraded to warn and carry no stack.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	entry := l.loggerFromContext(ctx)
	if pkgerrors.IsExpected(err) {
		entry.Warn().Err(err).Str("error_code", string(pkgerrors.CodeOf(err))).Msg(msg)
		return
	}
	event := entry.Error()
	if err != nil {
		event = event.Err(err)
		if typed := pkgerrors.As(err); typed != nil {
			event = event.Str("error_code", string(typed.Code()))
		}
	}
	event.Str("stack", stackTrace()).Msg(msg)
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
