package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger пишет структурированные записи в формате key/value.
type Logger struct {
	log    *slog.Logger
	closer io.Closer
}

// NewLogger создаёт логгер: JSON в ротируемый файл, если задан logPath,
// иначе текст в stderr.
func NewLogger(logPath, logLevel string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(logLevel)}

	if logPath == "" {
		return &Logger{log: slog.New(slog.NewTextHandler(os.Stderr, opts))}
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     30, // дней
		Compress:   true,
	}

	return &Logger{
		log:    slog.New(slog.NewJSONHandler(rotator, opts)),
		closer: rotator,
	}
}

// NewLoggerWithWriter пишет текстовые записи в w. Удобно для тестов.
func NewLoggerWithWriter(w io.Writer, logLevel string) *Logger {
	return &Logger{log: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(logLevel)}))}
}

// NewNopLogger отбрасывает все записи.
func NewNopLogger() *Logger {
	return NewLoggerWithWriter(io.Discard, "error")
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.log.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.log.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.log.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.log.Error(msg, fields...)
}

// With возвращает логгер с постоянными полями (например, site=...).
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{log: l.log.With(fields...), closer: l.closer}
}

// Close закрывает файл лога, если он был открыт.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func parseLevel(level string) slog.Level {
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
