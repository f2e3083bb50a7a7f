package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/cidflow/rpc"

// Invoker sends a prepared call. md already carries the correlation and
// routing headers.
type Invoker func(ctx context.Context, d *Descriptor, md metadata.Metadata) (*Future, error)

// Interceptor wraps an Invoker. Interceptors may add headers to md.
type Interceptor func(ctx context.Context, d *Descriptor, md metadata.Metadata, next Invoker) (*Future, error)

// Chain composes interceptors around final. The first interceptor is the outermost.
func Chain(final Invoker, interceptors ...Interceptor) Invoker {
	next := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, inner := interceptors[i], next
		if ic == nil {
			continue
		}
		next = func(ctx context.Context, d *Descriptor, md metadata.Metadata) (*Future, error) {
			return ic(ctx, d, md, inner)
		}
	}
	return next
}

// LoggingInterceptor logs every call and every failed outcome.
func LoggingInterceptor(logger loggingpkg.ServiceLogger) Interceptor {
	return func(ctx context.Context, d *Descriptor, md metadata.Metadata, next Invoker) (*Future, error) {
		fields := loggingpkg.LogFields{
			"rpc_service":    d.Service,
			"rpc_method":     d.Method,
			"rpc_mode":       d.Mode.String(),
			"correlation_id": md.CorrelationID(),
		}
		logger.Debug("Calling remote method", fields)

		fut, err := next(ctx, d, md)
		if err != nil {
			logger.Error("Remote call not sent", err, fields)
			return nil, err
		}
		fut.OnComplete(func(_ Result, err error) {
			if err != nil {
				logger.Error("Remote call failed", err, fields)
			}
		})
		return fut, nil
	}
}

// TracingInterceptor opens a client span per call and injects the W3C trace
// context into the request metadata.
func TracingInterceptor(tracer trace.Tracer) Interceptor {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(ctx context.Context, d *Descriptor, md metadata.Metadata, next Invoker) (*Future, error) {
		ctx, span := tracer.Start(ctx, d.Service+"."+d.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("rpc.system", "cidflow"),
				attribute.String("rpc.service", d.Service),
				attribute.String("rpc.method", d.Method),
				attribute.String("cidflow.correlation_id", md.CorrelationID()),
			),
		)
		otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(md))

		fut, err := next(ctx, d, md)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, err
		}
		fut.OnComplete(func(_ Result, err error) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		})
		return fut, nil
	}
}

// Metrics holds the client-side call collectors.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the call collectors on reg. Collectors that are
// already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cidflow",
		Subsystem: "rpc_client",
		Name:      "calls_total",
		Help:      "Outbound RPC calls by outcome.",
	}, []string{"service", "method", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cidflow",
		Subsystem: "rpc_client",
		Name:      "call_duration_seconds",
		Help:      "Time from publishing a request to receiving its reply.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method"})

	var err error
	if calls, err = register(reg, calls); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &Metrics{calls: calls, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Interceptor records one outcome and one duration sample per call.
func (m *Metrics) Interceptor() Interceptor {
	return func(ctx context.Context, d *Descriptor, md metadata.Metadata, next Invoker) (*Future, error) {
		start := time.Now()
		fut, err := next(ctx, d, md)
		if err != nil {
			m.calls.WithLabelValues(d.Service, d.Method, outcome(err)).Inc()
			return nil, err
		}
		fut.OnComplete(func(_ Result, err error) {
			m.calls.WithLabelValues(d.Service, d.Method, outcome(err)).Inc()
			m.duration.WithLabelValues(d.Service, d.Method).Observe(time.Since(start).Seconds())
		})
		return fut, nil
	}
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownService), errors.Is(err, ErrUnknownMethod):
		return "undeclared"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "transport_error"
	}
}
