package logging

import (
	"github.com/rs/zerolog"
)

// NewZerologServiceLogger adapts a zerolog.Logger. Trace maps to zerolog's
// trace level so it stays silent unless the global level allows it.
func NewZerologServiceLogger(log zerolog.Logger) ServiceLogger {
	return &zerologServiceLogger{inner: log}
}

type zerologServiceLogger struct {
	inner zerolog.Logger
}

func (z *zerologServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return z
	}
	return &zerologServiceLogger{inner: z.inner.With().Fields(map[string]any(fields)).Logger()}
}

func (z *zerologServiceLogger) Debug(msg string, fields LogFields) {
	z.emit(z.inner.Debug(), msg, fields)
}

func (z *zerologServiceLogger) Info(msg string, fields LogFields) {
	z.emit(z.inner.Info(), msg, fields)
}

func (z *zerologServiceLogger) Error(msg string, err error, fields LogFields) {
	z.emit(z.inner.Error().Err(err), msg, fields)
}

func (z *zerologServiceLogger) Trace(msg string, fields LogFields) {
	z.emit(z.inner.Trace(), msg, fields)
}

func (z *zerologServiceLogger) emit(ev *zerolog.Event, msg string, fields LogFields) {
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]any(fields))
	}
	ev.Msg(msg)
}
