package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Wire format of every line:
//
//	{"timestamp":"...","level":"INFO","service":"pump-control","hostname":"...","action":"...",
//	 "message":"...","request_id":"...","correlation_id":"...","details":{...},"error":{"msg":"...","stack":"..."}}
func init() {
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		return strings.ToUpper(l.String())
	}
}

// Logger writes single-line JSON entries tagged with the service name and hostname.
type Logger struct {
	zl zerolog.Logger
}

// New creates a structured logger for the given service writing to stdout.
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter creates a structured logger writing to w.
func NewWithWriter(service string, w io.Writer) *Logger {
	hn, err := os.Hostname()
	if err != nil || strings.TrimSpace(hn) == "" {
		hn = "unknown-hostname"
	}

	if strings.TrimSpace(service) == "" {
		service = "unknown-service"
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("hostname", hn).
		Logger()

	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Debug writes a DEBUG line with optional details.
func (l *Logger) Debug(ctx context.Context, action, msg string, details any) {
	l.emit(ctx, l.zl.Debug(), action, msg, details)
}

// Info writes an INFO line with optional details.
func (l *Logger) Info(ctx context.Context, action, msg string, details any) {
	l.emit(ctx, l.zl.Info(), action, msg, details)
}

// Error writes an ERROR line and attaches an error stack trace.
func (l *Logger) Error(ctx context.Context, action, msg string, err error, details any) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = strings.TrimSpace(err.Error())
	}

	ev := l.zl.Error().Dict("error", zerolog.Dict().
		Str("msg", errMsg).
		Str("stack", string(debug.Stack())),
	)
	l.emit(ctx, ev, action, msg, details)
}

func (l *Logger) emit(ctx context.Context, ev *zerolog.Event, action, msg string, details any) {
	ev = ev.Str("action", safeAction(action))
	if id := requestID(ctx); id != "" {
		ev = ev.Str("request_id", id)
	}
	if id := correlationID(ctx); id != "" {
		ev = ev.Str("correlation_id", id)
	}
	if details != nil {
		ev = ev.Interface("details", details)
	}
	ev.Msg(strings.TrimSpace(msg))
}

// ------------ Context helpers -------------

type ctxKey string

const (
	ctxKeyRequestID     ctxKey = "pumpcontrol_request_id"
	ctxKeyCorrelationID ctxKey = "pumpcontrol_correlation_id"
)

// WithRequestID returns a new context carrying request_id.
func (l *Logger) WithRequestID(ctx context.Context, reqID string) context.Context {
	if strings.TrimSpace(reqID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, reqID)
}

// WithCorrelationID returns a new context carrying correlation_id.
func (l *Logger) WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if strings.TrimSpace(correlationID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyCorrelationID, correlationID)
}

func requestID(ctx context.Context) string {
	return ctxString(ctx, ctxKeyRequestID)
}

func correlationID(ctx context.Context) string {
	return ctxString(ctx, ctxKeyCorrelationID)
}

func ctxString(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

func safeAction(a string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return "unspecified"
	}
	return a
}
