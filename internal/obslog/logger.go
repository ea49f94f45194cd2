// Package obslog provides the Logger and Metrics contracts used across
// the ingestion and retrieval engines, backed by zerolog and
// OpenTelemetry respectively, so components never depend on a concrete
// logging or metrics library directly.
package obslog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging contract every component depends on.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// ZerologLogger adapts zerolog.Logger to the Logger contract.
type ZerologLogger struct {
	z zerolog.Logger
}

// NewZerologLogger builds a JSON logger writing to stdout at the given
// level ("debug", "info", "error", ...). An empty level defaults to info.
func NewZerologLogger(level string) *ZerologLogger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	z := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return &ZerologLogger{z: z}
}

func (l *ZerologLogger) Info(msg string, fields map[string]any)  { l.event(l.z.Info(), msg, fields) }
func (l *ZerologLogger) Error(msg string, fields map[string]any) { l.event(l.z.Error(), msg, fields) }
func (l *ZerologLogger) Debug(msg string, fields map[string]any) { l.event(l.z.Debug(), msg, fields) }

func (l *ZerologLogger) event(e *zerolog.Event, msg string, fields map[string]any) {
	if fields != nil {
		e = e.Fields(fields)
	}
	e.Msg(msg)
}
