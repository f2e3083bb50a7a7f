// Package events publishes and consumes correlation-tagged events.
//
// Every payload carries the dispatching unit of work's correlation id under
// the reserved "cid" key. Handlers receive the payload with that key
// removed and the id bound to their context.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/drblury/cidflow/internal/runtime/cid"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	idspkg "github.com/drblury/cidflow/internal/runtime/ids"
	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/metadata"
)

// PayloadCID is the reserved payload key holding the correlation id.
const PayloadCID = "cid"

// ErrMalformedPayload marks events whose payload is not a JSON object.
var ErrMalformedPayload = errors.New("malformed event payload")

// Topic returns the topic an event of source is published to.
func Topic(source, name string) string {
	return source + "." + name
}

// Envelope is a dispatched event.
type Envelope struct {
	Source  string
	Name    string
	Payload map[string]any
	CID     string
}

// Topic returns the envelope's topic.
func (e Envelope) Topic() string {
	return Topic(e.Source, e.Name)
}

// Dispatcher publishes events on behalf of one source service.
type Dispatcher struct {
	source string
	pub    message.Publisher
	logger loggingpkg.ServiceLogger
}

// NewDispatcher returns a dispatcher for source publishing on pub.
func NewDispatcher(source string, pub message.Publisher, logger loggingpkg.ServiceLogger) (*Dispatcher, error) {
	if source == "" {
		return nil, errspkg.ErrServiceNameRequired
	}
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return &Dispatcher{source: source, pub: pub, logger: logger}, nil
}

// Source returns the dispatching service name.
func (d *Dispatcher) Source() string {
	return d.source
}

// Dispatch publishes name with payload. See DispatchEnvelope.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload map[string]any) error {
	_, err := d.DispatchEnvelope(ctx, name, payload)
	return err
}

// DispatchEnvelope tags a copy of payload with the correlation id in scope
// and publishes it. The caller's map is left unchanged.
func (d *Dispatcher) DispatchEnvelope(ctx context.Context, name string, payload map[string]any) (Envelope, error) {
	if strings.TrimSpace(name) == "" {
		return Envelope{}, errspkg.ErrEventNameRequired
	}

	id := cid.Ensure(ctx)
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body[PayloadCID] = id

	env := Envelope{Source: d.source, Name: name, Payload: body, CID: id}

	data, err := jsoncodec.Marshal(body)
	if err != nil {
		return env, fmt.Errorf("encode event %s: %w", name, err)
	}

	md := metadata.New(
		metadata.KeyCorrelationID, id,
		metadata.KeyEventName, name,
		metadata.KeySourceService, d.source,
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(md))

	msg := message.NewMessage(idspkg.CreateULID(), data)
	msg.Metadata = metadata.ToWatermill(md)
	msg.SetContext(ctx)

	if err := d.pub.Publish(env.Topic(), msg); err != nil {
		return env, fmt.Errorf("publish event %s: %w", env.Topic(), err)
	}
	loggingpkg.WithCorrelation(ctx, d.logger).Debug("Event dispatched", loggingpkg.LogFields{
		"topic":          env.Topic(),
		"message_uuid":   msg.UUID,
		"correlation_id": id,
	})
	return env, nil
}

// HandlerFunc consumes an event. payload no longer contains the cid key.
type HandlerFunc func(ctx context.Context, payload map[string]any, md metadata.Metadata) error

// Handler adapts fn to a Watermill handler. The correlation id is taken from
// the payload, then from the correlation_id header, and minted as a last
// resort. It is bound to a fresh scope that is cleared when fn returns.
func Handler(fn HandlerFunc, logger loggingpkg.ServiceLogger) message.NoPublishHandlerFunc {
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return func(msg *message.Message) error {
		payload := map[string]any{}
		if len(msg.Payload) > 0 {
			if err := jsoncodec.Unmarshal(msg.Payload, &payload); err != nil {
				return fmt.Errorf("%w %s: %v", ErrMalformedPayload, msg.UUID, err)
			}
		}
		if payload == nil {
			payload = map[string]any{}
		}

		var fromPayload string
		if v, ok := payload[PayloadCID]; ok {
			fromPayload, _ = v.(string)
			delete(payload, PayloadCID)
		}
		md := metadata.FromWatermill(msg.Metadata)
		id := cid.Resolve(fromPayload, md.CorrelationID())

		ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(md))
		ctx = cid.NewScope(ctx, id)
		scope := cid.ScopeFrom(ctx)
		defer scope.Clear()

		if err := fn(ctx, payload, md); err != nil {
			loggingpkg.WithCorrelation(ctx, logger).Error("Event handler failed", err, loggingpkg.LogFields{
				"event_name":   md[metadata.KeyEventName],
				"message_uuid": msg.UUID,
			})
			return err
		}
		return nil
	}
}
