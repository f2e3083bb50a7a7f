package logging

import (
	"context"

	"github.com/drblury/cidflow/internal/runtime/cid"
)

// FieldCorrelationID is the log field carrying the active correlation id.
const FieldCorrelationID = "correlation_id"

// WithCorrelation enriches log with the correlation id bound to ctx. The
// logger is returned untouched when no id is in scope.
func WithCorrelation(ctx context.Context, log ServiceLogger) ServiceLogger {
	if log == nil {
		return nil
	}
	id := cid.FromContext(ctx)
	if id == "" {
		return log
	}
	return log.With(LogFields{FieldCorrelationID: id})
}
