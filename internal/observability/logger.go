package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes one JSON line per event. Messages are snake_case event names,
// details go in fields.
type Logger struct {
	base zerolog.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, "info")
}

func NewLoggerTo(w io.Writer, level string) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.MessageFieldName = "message"

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}

	return &Logger{base: zerolog.New(w).Level(parsed).With().Timestamp().Logger()}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{base: zerolog.Nop()}
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.base.Debug().Fields(fields).Msg(message)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.base.Info().Fields(fields).Msg(message)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.base.Warn().Fields(fields).Msg(message)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.base.Error().Fields(fields).Msg(message)
}
