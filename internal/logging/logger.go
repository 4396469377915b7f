package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with key/value convenience methods:
//
//	logger.Info("Dataset refreshed", "dataset_id", id, "layers", n)
//
// A value logged under the "error" key is rendered with err.Error().
type Logger struct {
	zl zerolog.Logger
}

var global = NewDevelopment()

// NewProduction creates a JSON logger on stdout at info level
func NewProduction() *Logger {
	return NewWithWriter(os.Stdout, zerolog.InfoLevel)
}

// NewDevelopment creates a console logger on stdout at debug level
func NewDevelopment() *Logger {
	return NewWithWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, zerolog.DebugLevel)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, level zerolog.Level) *Logger {
	return &Logger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// SetGlobal replaces the process-wide logger
func SetGlobal(logger *Logger) {
	global = logger
}

// Global returns the process-wide logger
func Global() *Logger {
	return global
}

// OrGlobal returns l, or the global logger when l is nil
func OrGlobal(l *Logger) *Logger {
	if l == nil {
		return global
	}
	return l
}

func write(e *zerolog.Event, msg string, fields []interface{}) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if err, ok := fields[i+1].(error); ok && key == "error" {
			e.Str(key, err.Error())
			continue
		}
		e.Interface(key, fields[i+1])
	}
	e.Msg(msg)
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, fields ...interface{}) { write(l.zl.Debug(), msg, fields) }

// Info logs at info level
func (l *Logger) Info(msg string, fields ...interface{}) { write(l.zl.Info(), msg, fields) }

// Warn logs at warn level
func (l *Logger) Warn(msg string, fields ...interface{}) { write(l.zl.Warn(), msg, fields) }

// Error logs at error level
func (l *Logger) Error(msg string, fields ...interface{}) { write(l.zl.Error(), msg, fields) }

// Fatal logs at fatal level and exits the process
func (l *Logger) Fatal(msg string, fields ...interface{}) { write(l.zl.Fatal(), msg, fields) }

// With returns a child logger that always carries fields
func (l *Logger) With(fields ...interface{}) *Logger {
	c := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		c = c.Interface(key, fields[i+1])
	}
	return &Logger{zl: c.Logger()}
}

// WithContext returns a child logger carrying the request fields stored in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Enabled reports whether level would be written
func (l *Logger) Enabled(level zerolog.Level) bool {
	return l.zl.GetLevel() <= level
}

// Debug logs at debug level on the global logger
func Debug(msg string, fields ...interface{}) { global.Debug(msg, fields...) }

// Info logs at info level on the global logger
func Info(msg string, fields ...interface{}) { global.Info(msg, fields...) }

// Warn logs at warn level on the global logger
func Warn(msg string, fields ...interface{}) { global.Warn(msg, fields...) }

// Error logs at error level on the global logger
func Error(msg string, fields ...interface{}) { global.Error(msg, fields...) }
