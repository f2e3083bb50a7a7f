package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/metadata"
)

// WorkKind tells which inbound adapter a unit of work goes through.
type WorkKind string

const (
	WorkRPC     WorkKind = "rpc"
	WorkEvent   WorkKind = "event"
	WorkMessage WorkKind = "message"
)

// Work describes one inbound message as the router hands it to a handler.
type Work struct {
	Kind    WorkKind
	Handler string
	Topic   string
	// MessageID is the ULID of the inbound message.
	MessageID string
	// CorrelationID is the cid carried in the message header.
	CorrelationID string
	// Service is the called RPC service, or the source service of an event.
	Service string
	// Method is the RPC method. Empty for events and raw messages.
	Method string
	// Event is the event name. Empty for RPC calls and raw messages.
	Event     string
	Context   context.Context
	StartedAt time.Time
	// Duration is set for OnDone and OnError.
	Duration time.Duration
}

// Fields returns the log fields identifying w.
func (w Work) Fields() loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"kind":           string(w.Kind),
		"handler":        w.Handler,
		"message_id":     w.MessageID,
		"correlation_id": w.CorrelationID,
	}
	switch w.Kind {
	case WorkRPC:
		fields["rpc_service"] = w.Service
		fields["rpc_method"] = w.Method
	case WorkEvent:
		fields["source_service"] = w.Service
		fields["event_name"] = w.Event
	default:
		fields["topic"] = w.Topic
	}
	return fields
}

// workFromMessage reads the work description from the router context and
// the metadata stamped by the RPC client or the event dispatcher.
func workFromMessage(msg *message.Message) Work {
	md := msg.Metadata
	w := Work{
		Kind:          WorkMessage,
		Handler:       message.HandlerNameFromCtx(msg.Context()),
		Topic:         message.SubscribeTopicFromCtx(msg.Context()),
		MessageID:     msg.UUID,
		CorrelationID: md.Get(metadata.KeyCorrelationID),
		Context:       msg.Context(),
		StartedAt:     time.Now(),
	}
	switch {
	case md.Get(metadata.KeyRPCReplyTo) != "":
		w.Kind = WorkRPC
		w.Service = md.Get(metadata.KeyRPCService)
		w.Method = md.Get(metadata.KeyRPCMethod)
	case md.Get(metadata.KeyEventName) != "":
		w.Kind = WorkEvent
		w.Service = md.Get(metadata.KeySourceService)
		w.Event = md.Get(metadata.KeyEventName)
	}
	return w
}

// WorkHooks are called around every handler attempt. Nil hooks are skipped.
type WorkHooks struct {
	OnStart func(w Work)
	OnDone  func(w Work)
	OnError func(w Work, err error)
}

// Merge returns hooks calling h first and then other.
func (h WorkHooks) Merge(other WorkHooks) WorkHooks {
	return WorkHooks{
		OnStart: chainWork(h.OnStart, other.OnStart),
		OnDone:  chainWork(h.OnDone, other.OnDone),
		OnError: chainWorkError(h.OnError, other.OnError),
	}
}

func chainWork(a, b func(Work)) func(Work) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(w Work) {
		a(w)
		b(w)
	}
}

func chainWorkError(a, b func(Work, error)) func(Work, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(w Work, err error) {
		a(w, err)
		b(w, err)
	}
}

// WorkHooksMiddleware registers hooks on the router. It runs inside the
// retry middleware, so hooks see every attempt.
func WorkHooksMiddleware(hooks WorkHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "work_hooks",
		Middleware: workHooksMiddleware(hooks),
	}
}

func workHooksMiddleware(hooks WorkHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			w := workFromMessage(msg)
			if hooks.OnStart != nil {
				hooks.OnStart(w)
			}

			msgs, err := h(msg)
			w.Duration = time.Since(w.StartedAt)

			if err != nil {
				if hooks.OnError != nil {
					hooks.OnError(w, err)
				}
			} else if hooks.OnDone != nil {
				hooks.OnDone(w)
			}
			return msgs, err
		}
	}
}

// LoggingWorkHooks logs start at debug level and the outcome at info or
// error level.
func LoggingWorkHooks(logger loggingpkg.ServiceLogger) WorkHooks {
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return WorkHooks{
		OnStart: func(w Work) {
			logger.Debug("Work started", w.Fields())
		},
		OnDone: func(w Work) {
			fields := w.Fields()
			fields["duration_ms"] = w.Duration.Milliseconds()
			logger.Info("Work completed", fields)
		},
		OnError: func(w Work, err error) {
			fields := w.Fields()
			fields["duration_ms"] = w.Duration.Milliseconds()
			logger.Error("Work failed", err, fields)
		},
	}
}

// MetricsWorkHooks counts inbound work by outcome and observes its duration.
// RPC work is labelled with service and method, events with source service
// and event name.
func MetricsWorkHooks(reg prometheus.Registerer) (WorkHooks, error) {
	if reg == nil {
		return WorkHooks{}, errors.New("metrics work hooks require a registerer")
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cidflow",
		Subsystem: "inbound",
		Name:      "work_total",
		Help:      "Inbound RPC calls, events and messages by outcome.",
	}, []string{"kind", "service", "operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cidflow",
		Subsystem: "inbound",
		Name:      "work_duration_seconds",
		Help:      "Handler time per inbound attempt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind", "service", "operation"})

	var err error
	if total, err = registerCollector(reg, total); err != nil {
		return WorkHooks{}, err
	}
	if duration, err = registerCollector(reg, duration); err != nil {
		return WorkHooks{}, err
	}

	observe := func(w Work, outcome string) {
		op := w.Method
		if w.Kind == WorkEvent {
			op = w.Event
		}
		service := w.Service
		if w.Kind == WorkMessage {
			service, op = w.Handler, w.Topic
		}
		total.WithLabelValues(string(w.Kind), service, op, outcome).Inc()
		duration.WithLabelValues(string(w.Kind), service, op).Observe(w.Duration.Seconds())
	}
	return WorkHooks{
		OnDone:  func(w Work) { observe(w, "ok") },
		OnError: func(w Work, _ error) { observe(w, "error") },
	}, nil
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
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

// ObservabilityHooksMiddleware logs every inbound attempt and, when metrics
// are enabled, records it on the service registerer.
func ObservabilityHooksMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "work_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			hooks := LoggingWorkHooks(s.Logger)
			if s.Conf != nil && s.Conf.MetricsEnabled {
				m, err := MetricsWorkHooks(s.metricsRegisterer())
				if err != nil {
					return nil, err
				}
				hooks = hooks.Merge(m)
			}
			return workHooksMiddleware(hooks), nil
		},
	}
}
