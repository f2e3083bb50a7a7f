package transport

// Capabilities describes the features of a transport backend that matter to
// request/reply RPC and event delivery.
type Capabilities struct {
	// Name is the registry name of the transport.
	Name string

	// SupportsAck indicates the transport supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport redelivers negatively acknowledged messages.
	SupportsNack bool

	// SupportsOrdering indicates messages on one topic arrive in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates metadata headers survive the hop, so W3C
	// trace context and correlation ids propagate.
	SupportsTracing bool

	// SupportsDynamicTopics indicates subscribers may attach to topics created
	// at runtime. Per-connection reply topics need it.
	SupportsDynamicTopics bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// SupportsRequestReply reports whether the RPC client can run over the
// transport: replies need private runtime topics and intact metadata.
func (c Capabilities) SupportsRequestReply() bool {
	return c.SupportsDynamicTopics && c.SupportsTracing
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:                  "channel",
		SupportsAck:           true,
		SupportsNack:          true,
		SupportsOrdering:      true,
		SupportsTracing:       true,
		SupportsDynamicTopics: true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                  "kafka",
		SupportsAck:           true,
		SupportsOrdering:      true,
		SupportsTracing:       true,
		SupportsDynamicTopics: true,
		MaxMessageSize:        1048576,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:                  "rabbitmq",
		SupportsAck:           true,
		SupportsNack:          true,
		SupportsOrdering:      true,
		SupportsTracing:       true,
		SupportsDynamicTopics: true,
	}

	// NATSCapabilities for NATS Core, or JetStream when enabled.
	NATSCapabilities = Capabilities{
		Name:                  "nats",
		SupportsTracing:       true,
		SupportsDynamicTopics: true,
		MaxMessageSize:        1048576,
	}

	// HTTPCapabilities for the webhook-style HTTP transport. Subscriptions
	// must exist before the server starts, so it carries events only.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)
