// Package logging holds the daemon's zap logger and its HTTP request log.
package logging

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
)

var (
	base  *zap.Logger
	level = zap.NewAtomicLevel()
)

// Config selects the log level (debug, info, warn, error) and the encoder
// (console or json).
type Config struct {
	Level  string
	Format string
}

// Init builds the process logger. An unknown level means info.
func Init(cfg Config) error {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	logger, err := zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	base = logger
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// SetLevel changes the level of every logger derived from this package,
// including the ones handed to libraries.
func SetLevel(s string) error {
	l, err := parseLevel(s)
	if err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// Level reports the current level.
func Level() string {
	return level.Level().String()
}

// Sync flushes buffered entries.
func Sync() error {
	if base == nil {
		return nil
	}
	return base.Sync()
}

// L returns the process logger, building a production one on first use.
func L() *zap.Logger {
	if base == nil {
		zc := zap.NewProductionConfig()
		zc.Level = level
		base, _ = zc.Build(zap.AddCallerSkip(1))
	}
	return base
}

// Named returns a child logger for handing to libraries. It drops the
// helper caller skip so library call sites are reported.
func Named(name string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// FromContext returns the request-scoped logger, or the process logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return L()
}

func withRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, loggerKey, FromContext(ctx).With(zap.String("request_id", id)))
	return context.WithValue(ctx, requestIDKey, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal logs and exits.
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// statusWriter records the status and body size, and passes flushes
// through for SSE and media streams.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware tags each request with an X-Request-ID (kept when the client
// sent one) and logs it once it completes. Server errors log at warn.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := withRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int64("bytes", sw.bytes),
			zap.Duration("duration", time.Since(start)),
		}
		log := FromContext(ctx)
		if sw.status >= http.StatusInternalServerError {
			log.Warn("request failed", fields...)
			return
		}
		log.Info("request", fields...)
	})
}
