package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cidflow/internal/runtime/cid"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	idspkg "github.com/drblury/cidflow/internal/runtime/ids"
	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/cidflow/internal/runtime/metadata"
)

// Producer emits JSON payloads onto the configured transport.
type Producer interface {
	PublishJSON(ctx context.Context, topic string, payload any, metadata metadatapkg.Metadata) error
}

// NewJSONMessage encodes payload into a Watermill message carrying a ULID
// and the supplied metadata.
func NewJSONMessage(payload any, metadata metadatapkg.Metadata) (*message.Message, error) {
	if payload == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}

	data, err := jsoncodec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), data)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	return msg, nil
}

// PublishJSON encodes payload and publishes it to topic. The correlation id
// of ctx is stamped on the message unless metadata already names one.
func PublishJSON(ctx context.Context, publisher message.Publisher, topic string, payload any, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if metadata.CorrelationID() == "" {
		metadata = metadata.WithCorrelationID(cid.Ensure(ctx))
	}
	msg, err := NewJSONMessage(payload, metadata)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	return publisher.Publish(topic, msg)
}

// PublishJSON publishes through the Service publisher so HTTP handlers can
// emit messages without touching the Watermill APIs directly.
func (s *Service) PublishJSON(ctx context.Context, topic string, payload any, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("cidflow service is nil")
	}
	return PublishJSON(ctx, s.publisher, topic, payload, metadata)
}
